package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	discordUsername  = "WebUntis"
	discordAvatarURL = "https://cdn.aptoide.com/imgs/b/1/3/b1399c00075a847dd4e54baddfa11b45_icon.png"
)

var webhookTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DiscordProvider posts messages as embeds to a Discord webhook.
type DiscordProvider struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// NewDiscordProvider validates webhookURL and returns a provider for it.
func NewDiscordProvider(webhookURL string, logger *slog.Logger) (*DiscordProvider, error) {
	if err := ValidateWebhookURL(webhookURL); err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	return &DiscordProvider{
		endpoint: webhookURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		attempts: 3,
		delay:    time.Second,
	}, nil
}

// ValidateWebhookURL accepts only https://discord.com/api/webhooks/<id>/<token>.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" {
		return fmt.Errorf("scheme is %q instead of \"https\"", u.Scheme)
	}
	if u.Host != "discord.com" {
		return fmt.Errorf("host is %q instead of \"discord.com\"", u.Host)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return fmt.Errorf("expected no query, got %q", u.RawQuery)
	}
	if u.Fragment != "" {
		return fmt.Errorf("expected no fragment, got %q", u.Fragment)
	}

	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) != 4 {
		return fmt.Errorf("expected 4 path segments, got %d", len(segments))
	}
	if segments[0] != "api" || segments[1] != "webhooks" {
		return fmt.Errorf("path must start with /api/webhooks/, got %q", u.Path)
	}
	if _, err := strconv.ParseUint(segments[2], 10, 64); err != nil {
		return fmt.Errorf("invalid webhook id %q", segments[2])
	}
	if !webhookTokenPattern.MatchString(segments[3]) {
		return errors.New("invalid webhook token")
	}
	return nil
}

func (*DiscordProvider) Name() string { return "discord" }

type webhookRequest struct {
	Username  string  `json:"username"`
	AvatarURL string  `json:"avatar_url"`
	Embeds    []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       Color        `json:"color"`
	Timestamp   time.Time    `json:"timestamp"`
	Fields      []embedField `json:"fields"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func webhookPayload(m Message) webhookRequest {
	fields := make([]embedField, 0, len(m.Fields))
	for _, f := range m.Fields {
		fields = append(fields, embedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	return webhookRequest{
		Username:  discordUsername,
		AvatarURL: discordAvatarURL,
		Embeds: []embed{{
			Title:       m.Title,
			Description: m.Body,
			Color:       m.Color,
			Timestamp:   m.Timestamp.UTC(),
			Fields:      fields,
		}},
	}
}

// Send posts the message. Client errors other than 429 are not retried.
func (d *DiscordProvider) Send(ctx context.Context, m Message) error {
	jsonData, err := json.Marshal(webhookPayload(m))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return retry.Do(
		func() error {
			d.logger.Info("Discord webhook request starting", "method", "POST", "title", m.Title)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := d.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				d.logger.Warn("Discord webhook request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					d.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				err := fmt.Errorf("HTTP %d", resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					d.logger.Warn("Discord webhook rejected message", "status_code", resp.StatusCode)
					return retry.Unrecoverable(err)
				}
				d.logger.Warn("Discord webhook returned non-2xx status, will retry", "status_code", resp.StatusCode)
				return err
			}

			d.logger.Info("Discord webhook request completed",
				"duration_ms", duration.Milliseconds(),
				"status_code", resp.StatusCode)
			return nil
		},
		retry.Attempts(d.attempts),
		retry.Delay(d.delay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(d.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Info("Retrying Discord webhook after error", "attempt", n, "error", err)
		}),
	)
}
