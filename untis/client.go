// Package untis talks to the WebUntis web API: the login handshake, the
// bearer session, and the timetable entries endpoint.
package untis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/codeGROOVE-dev/retry"

	"webuntis-notifier/pkg/timetable"
)

const maxBodySize = 16 << 20

// Config configures a Client.
type Config struct {
	School   string
	Username string
	Password string

	// BaseURL overrides https://{school}.webuntis.com/WebUntis/.
	BaseURL string

	SessionLifetime time.Duration
	Timeout         time.Duration

	Attempts   uint
	RetryDelay time.Duration
	MaxJitter  time.Duration
}

// Client is a logged-in (or lazily logging-in) WebUntis API client.
type Client struct {
	http   *http.Client
	base   *url.URL
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	token  *Token
	logins int
}

// New creates a client. No request is made until the first EnsureSession.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := ValidateSchool(cfg.School); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.webuntis.com/WebUntis/", cfg.School)
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SessionLifetime == 0 {
		cfg.SessionLifetime = 15 * time.Minute
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = 5 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			// Wrong credentials are answered with a redirect; it must stay visible.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base:   base,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// EnsureSession logs in when there is no token or the current one expired.
func (c *Client) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.token.Expired(c.now(), c.cfg.SessionLifetime) {
		return nil
	}
	if c.token != nil {
		c.logger.Info("Session expired, logging in again",
			"issued_at", c.token.IssuedAt.Format(time.RFC3339))
	}
	return c.login(ctx)
}

// Login performs the full handshake unconditionally.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	c.token = nil
	var value string

	err := c.withRetry(ctx, "login", func() error {
		form := url.Values{
			"j_username": {c.cfg.Username},
			"j_password": {c.cfg.Password},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint("j_spring_security_check"), strings.NewReader(form.Encode()))
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if _, err := c.do(req, "login"); err != nil {
			return err
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api/token/new"), http.NoBody)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		body, err := c.do(req, "new_token")
		if err != nil {
			return err
		}
		value = strings.TrimSpace(string(body))
		return nil
	})
	if err != nil {
		return fmt.Errorf("login to %s: %w", c.cfg.School, err)
	}

	token, err := NewToken(value, c.now())
	if err != nil {
		return fmt.Errorf("login to %s: invalid token: %w", c.cfg.School, err)
	}
	c.token = token
	c.logins++

	attrs := []any{"school", c.cfg.School, "logins", c.logins}
	if !token.ExpiresAt.IsZero() {
		attrs = append(attrs, "token_expires_at", token.ExpiresAt.Format(time.RFC3339))
	}
	c.logger.Info("Logged in", attrs...)
	return nil
}

// FetchEntries returns the timetable of resourceID for the inclusive range
// start..end.
func (c *Client) FetchEntries(ctx context.Context, start, end civil.Date, resourceID int) (*timetable.Entries, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == nil {
		return nil, fmt.Errorf("fetch entries: %w: not logged in", ErrAuth)
	}

	q := url.Values{
		"start":        {start.String()},
		"end":          {end.String()},
		"resourceType": {"CLASS"},
		"resources":    {strconv.Itoa(resourceID)},
		"format":       {strconv.Itoa(timetable.FormatVersion)},
	}
	target := c.endpoint("api/rest/view/v1/timetable/entries") + "?" + q.Encode()

	var entries *timetable.Entries
	err := c.withRetry(ctx, "fetch_entries", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token.Value)
		req.Header.Set("Accept", "application/json")

		body, err := c.do(req, "fetch_entries")
		if err != nil {
			return err
		}
		entries, err = timetable.DecodeEntries(body)
		return err
	})
	if err != nil {
		if IsAuthError(err) {
			c.dropToken(token)
		}
		return nil, fmt.Errorf("fetch entries %s..%s: %w", start, end, err)
	}

	if len(entries.Errors) > 0 {
		msgs := make([]string, 0, len(entries.Errors))
		for _, raw := range entries.Errors {
			msgs = append(msgs, string(raw))
		}
		return nil, fmt.Errorf("fetch entries %s..%s: %w", start, end, &ValidationError{Messages: msgs})
	}
	return entries, nil
}

// FetchDay returns the single Day for date. Anything other than exactly one
// day dated date is a shape mismatch.
func (c *Client) FetchDay(ctx context.Context, date civil.Date, resourceID int) (*timetable.Day, error) {
	entries, err := c.FetchEntries(ctx, date, date, resourceID)
	if err != nil {
		return nil, err
	}
	if len(entries.Days) != 1 {
		return nil, &timetable.ShapeError{What: "day count for " + date.String(), Want: 1, Got: len(entries.Days)}
	}
	day := &entries.Days[0]
	if day.Date != date {
		return nil, fmt.Errorf("%w: requested %s, got %s", timetable.ErrShapeMismatch, date, day.Date)
	}
	return day, nil
}

// dropToken forgets a token the server rejected, unless a newer one already
// replaced it.
func (c *Client) dropToken(t *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == t {
		c.logger.Warn("Session rejected by server, will log in again")
		c.token = nil
	}
}

func (c *Client) endpoint(path string) string {
	return c.base.JoinPath(path).String()
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request, purpose string) ([]byte, error) {
	c.logger.Info("HTTP request starting",
		"method", req.Method,
		"url", req.URL.Path,
		"purpose", purpose)

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("HTTP request failed",
			"url", req.URL.Path,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Info("HTTP request completed",
		"url", req.URL.Path,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(req.Method, req.URL.Path, resp.StatusCode, resp.Header.Get("Content-Type"), body)
	}
	return body, nil
}

func (c *Client) withRetry(ctx context.Context, purpose string, fn func() error) error {
	var last error
	err := retry.Do(
		func() error {
			last = fn()
			if last != nil && !retryable(last) {
				return retry.Unrecoverable(last)
			}
			return last
		},
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(c.cfg.MaxJitter),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying request after error", "purpose", purpose, "attempt", n, "error", err)
		}),
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if last == nil {
		return err
	}
	return last
}

// retryable is false for outcomes that a repeated request cannot change.
func retryable(err error) bool {
	if IsAuthError(err) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, timetable.ErrSchemaMismatch) ||
		errors.Is(err, timetable.ErrMalformed) ||
		errors.Is(err, timetable.ErrShapeMismatch) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		s := apiErr.StatusCode
		return s == http.StatusTooManyRequests || s >= 500
	}
	return true
}
