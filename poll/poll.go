// Package poll runs the timetable poll cycle: fetch, project, compare against
// the baseline, and notify.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"webuntis-notifier/diff"
	"webuntis-notifier/pkg/timetable"
)

// ErrTooManyFailures is returned by Run once the consecutive failure limit is reached.
var ErrTooManyFailures = errors.New("too many consecutive cycle failures")

// Fetcher retrieves timetable days. EnsureSession is called before every
// fetch and may log in again when the session expired.
type Fetcher interface {
	EnsureSession(ctx context.Context) error
	FetchDay(ctx context.Context, date civil.Date, resourceID int) (*timetable.Day, error)
}

// Notifier receives everything the controller wants a human to see.
type Notifier interface {
	LessonChanged(ctx context.Context, c diff.Classification) error
	InternalError(ctx context.Context, err error) error
	Fatal(ctx context.Context, err error) error
}

// Store persists the baseline so a restart does not lose it.
// LoadBaseline returns nil, nil when nothing is stored.
type Store interface {
	SaveBaseline(ctx context.Context, snap *timetable.Snapshot) error
	LoadBaseline(ctx context.Context, resourceID int) (*timetable.Snapshot, error)
	DeleteBaseline(ctx context.Context, resourceID int) error
}

// Config holds the controller's constants.
type Config struct {
	ResourceID   int
	Location     *time.Location
	RolloverHour int // local hour from which the next day is polled
	MaxFailures  int // consecutive cycle failures before Run gives up
}

// baseline is the accepted lesson list of one date. A nil *baseline is the
// NoBaseline state.
type baseline struct {
	date    civil.Date
	lessons []timetable.LessonInfo
}

// Controller owns the baseline and the failure counter.
type Controller struct {
	fetcher  Fetcher
	notifier Notifier
	store    Store
	logger   *slog.Logger
	cfg      Config

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
	wake chan struct{}

	mu          sync.Mutex
	base        *baseline
	failures    int
	lastCycleAt time.Time
	lastErr     error
	nextPollAt  time.Time
}

// New creates a controller. store may be nil.
func New(cfg Config, fetcher Fetcher, notifier Notifier, store Store, logger *slog.Logger) *Controller {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	c := &Controller{
		fetcher:  fetcher,
		notifier: notifier,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	c.wait = c.sleep
	return c
}

// TargetDate is the local date to poll at now. From rolloverHour onwards the
// current day is over and the next day is previewed instead.
func TargetDate(now time.Time, loc *time.Location, rolloverHour int) civil.Date {
	local := now.In(loc)
	d := civil.DateOf(local)
	if local.Hour() >= rolloverHour {
		d = d.AddDays(1)
	}
	return d
}

// Restore loads a persisted baseline, if any. A baseline for another
// resource is ignored.
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.LoadBaseline(ctx, c.cfg.ResourceID)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	if snap == nil {
		c.logger.Info("No stored baseline", "resource_id", c.cfg.ResourceID)
		return nil
	}
	if snap.ResourceID != c.cfg.ResourceID {
		c.logger.Warn("Ignoring stored baseline for another resource",
			"resource_id", c.cfg.ResourceID, "stored_resource_id", snap.ResourceID)
		return nil
	}

	c.mu.Lock()
	c.base = &baseline{date: snap.Date, lessons: snap.Lessons}
	c.mu.Unlock()

	c.logger.Info("Baseline restored",
		"date", snap.Date.String(),
		"lesson_count", len(snap.Lessons),
		"saved_at", snap.SavedAt.Format(time.RFC3339))
	return nil
}

// RunCycle performs one fetch/compare/notify pass. It does not touch the
// failure counter; Run does that with the returned error.
func (c *Controller) RunCycle(ctx context.Context) error {
	logger := c.logger.With("cycle_id", uuid.NewString())
	start := c.now()
	today := TargetDate(start, c.cfg.Location, c.cfg.RolloverHour)

	logger.Info("Poll cycle starting", "date", today.String(), "resource_id", c.cfg.ResourceID)

	if err := c.fetcher.EnsureSession(ctx); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	day, err := c.fetcher.FetchDay(ctx, today, c.cfg.ResourceID)
	if err != nil {
		return fmt.Errorf("fetch day %s: %w", today, err)
	}
	if day.Date != today {
		return fmt.Errorf("%w: requested %s, got %s", timetable.ErrShapeMismatch, today, day.Date)
	}

	lessons, err := timetable.ProjectDay(day)
	if err != nil {
		return fmt.Errorf("project day %s: %w", today, err)
	}

	c.mu.Lock()
	base := c.base
	c.mu.Unlock()

	switch {
	case base == nil:
		c.adopt(ctx, logger, today, lessons)
		logger.Info("Baseline recorded", "date", today.String(), "lesson_count", len(lessons))

	case base.date != today:
		logger.Info("Date changed, discarding baseline",
			"previous_date", base.date.String(), "date", today.String())
		c.adopt(ctx, logger, today, lessons)

	default:
		result, err := diff.Day(base.lessons, lessons)
		if err != nil {
			return fmt.Errorf("compare %s: %w", today, err)
		}

		for _, cl := range result.Classifications {
			logger.Info("Lesson change detected",
				"kind", cl.Kind.String(),
				"lesson_start", cl.Lesson.Datetime.String(),
				"subject", cl.Lesson.Subject,
				"summary", cl.Summary())
			if err := c.notifier.LessonChanged(ctx, cl); err != nil {
				logger.Warn("Notification delivery failed", "kind", cl.Kind.String(), "error", err)
			}
		}

		if result.Changed {
			logger.Info("Invalidating baseline after change",
				"date", today.String(), "notifications", len(result.Classifications))
			c.invalidate(ctx, logger)
		} else {
			logger.Debug("No changes", "lesson_count", len(lessons))
		}
	}

	logger.Info("Poll cycle completed", "duration_ms", c.now().Sub(start).Milliseconds())
	return nil
}

func (c *Controller) adopt(ctx context.Context, logger *slog.Logger, date civil.Date, lessons []timetable.LessonInfo) {
	c.mu.Lock()
	c.base = &baseline{date: date, lessons: lessons}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	snap := &timetable.Snapshot{
		ResourceID: c.cfg.ResourceID,
		Date:       date,
		Lessons:    lessons,
		SavedAt:    c.now(),
	}
	if err := c.store.SaveBaseline(ctx, snap); err != nil {
		logger.Warn("Failed to persist baseline", "date", date.String(), "error", err)
	}
}

func (c *Controller) invalidate(ctx context.Context, logger *slog.Logger) {
	c.mu.Lock()
	c.base = nil
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.DeleteBaseline(ctx, c.cfg.ResourceID); err != nil {
		logger.Warn("Failed to delete stored baseline", "error", err)
	}
}

// record updates the failure counter with a cycle outcome. It returns a
// non-nil error when the controller must stop.
func (c *Controller) record(ctx context.Context, err error) error {
	c.mu.Lock()
	c.lastCycleAt = c.now()
	if err == nil {
		if c.failures > 0 {
			c.logger.Info("Cycle succeeded, resetting failure counter", "previous_failures", c.failures)
		}
		c.failures = 0
		c.lastErr = nil
		c.mu.Unlock()
		return nil
	}
	c.failures++
	failures := c.failures
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Error("Poll cycle failed",
		"error", err,
		"consecutive_failures", failures,
		"max_failures", c.cfg.MaxFailures)

	var fatal error
	switch {
	case errors.Is(err, timetable.ErrSchemaMismatch):
		// A new build is needed; retrying cannot help.
		fatal = err
	case failures >= c.cfg.MaxFailures:
		fatal = fmt.Errorf("%w (%d): %w", ErrTooManyFailures, failures, err)
	}

	if fatal != nil {
		if nerr := c.notifier.Fatal(ctx, fatal); nerr != nil {
			c.logger.Warn("Final notification failed", "error", nerr)
		}
		return fatal
	}

	if nerr := c.notifier.InternalError(ctx, err); nerr != nil {
		c.logger.Warn("Error notification failed", "error", nerr)
	}
	return nil
}

// Run polls until ctx is cancelled or a fatal condition is reached. Cycles
// never overlap; the wait between them follows Interval.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Poll loop starting",
		"resource_id", c.cfg.ResourceID,
		"timezone", c.cfg.Location.String(),
		"rollover_hour", c.cfg.RolloverHour,
		"max_failures", c.cfg.MaxFailures)

	for {
		err := c.RunCycle(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Context cancelled, stopping poll loop", "error", ctx.Err())
			return ctx.Err()
		}
		if fatal := c.record(ctx, err); fatal != nil {
			return fatal
		}

		now := c.now()
		interval := Interval(now.In(c.cfg.Location))
		c.mu.Lock()
		c.nextPollAt = now.Add(interval)
		c.mu.Unlock()

		c.logger.Debug("Waiting for next cycle",
			"interval", interval.String(),
			"next_poll", now.Add(interval).Format(time.RFC3339))

		if err := c.wait(ctx, interval); err != nil {
			c.logger.Info("Context cancelled, stopping poll loop", "error", err)
			return err
		}
	}
}

// Interval is the wait before the next cycle, given the current local time.
// School hours are polled often, evenings less, nights and weekends rarely.
func Interval(local time.Time) time.Duration {
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return time.Hour
	}
	switch h := local.Hour(); {
	case h >= 6 && h < 18:
		return 5 * time.Minute
	case h >= 18 && h < 22:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// Trigger cuts the current wait short so the next cycle starts now. It
// reports false when a trigger is already pending.
func (c *Controller) Trigger() bool {
	select {
	case c.wake <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.wake:
		c.logger.Info("Poll triggered early")
		return nil
	case <-t.C:
		return nil
	}
}

// Status is a point-in-time view of the controller for the status endpoint.
type Status struct {
	State               string    `json:"state"`
	Date                string    `json:"date,omitempty"`
	LessonCount         int       `json:"lesson_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCycleAt         time.Time `json:"last_cycle_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	NextPollAt          time.Time `json:"next_poll_at,omitzero"`
}

// Status returns a snapshot safe to call from other goroutines.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		State:               "no_baseline",
		ConsecutiveFailures: c.failures,
		LastCycleAt:         c.lastCycleAt,
		NextPollAt:          c.nextPollAt,
	}
	if c.base != nil {
		s.State = "baseline"
		s.Date = c.base.date.String()
		s.LessonCount = len(c.base.lessons)
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
