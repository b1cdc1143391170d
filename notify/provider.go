package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"webuntis-notifier/diff"
)

// Provider delivers a message to one destination.
type Provider interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// Dispatcher fans every message out to all configured providers.
type Dispatcher struct {
	providers []Provider
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a dispatcher. With no providers, messages are only logged.
func New(logger *slog.Logger, providers ...Provider) *Dispatcher {
	return &Dispatcher{
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// LessonChanged announces a classified lesson change.
func (d *Dispatcher) LessonChanged(ctx context.Context, c diff.Classification) error {
	d.logger.Info("Sending lesson notification",
		"kind", c.Kind.String(),
		"subject", c.Lesson.Subject,
		"lesson_start", c.Lesson.Datetime.String())
	return d.dispatch(ctx, LessonMessage(c, d.now()))
}

// InternalError announces a failed poll cycle.
func (d *Dispatcher) InternalError(ctx context.Context, err error) error {
	return d.dispatch(ctx, ErrorMessage("Internal Error", err, d.now()))
}

// Fatal announces that the service is shutting down because of err.
func (d *Dispatcher) Fatal(ctx context.Context, err error) error {
	return d.dispatch(ctx, ErrorMessage("Internal Error", fmt.Errorf("shutting down: %w", err), d.now()))
}

func (d *Dispatcher) dispatch(ctx context.Context, m Message) error {
	if len(d.providers) == 0 {
		d.logger.Warn("No notification providers configured", "title", m.Title)
		return nil
	}

	var errs []error
	for _, p := range d.providers {
		if err := p.Send(ctx, m); err != nil {
			d.logger.Error("Notification delivery failed",
				"provider", p.Name(),
				"title", m.Title,
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
