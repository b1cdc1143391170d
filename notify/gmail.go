package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailProvider sends messages as HTML email via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	to      string
	logger  *slog.Logger
}

// NewGmailProvider creates a Gmail provider from an existing service.
func NewGmailProvider(service *gmail.Service, to string, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		to:      sanitizeEmailHeader(to),
		logger:  logger,
	}
}

// DialGmail builds the Gmail service from application default credentials
// plus opts.
func DialGmail(ctx context.Context, to string, logger *slog.Logger, opts ...option.ClientOption) (*GmailProvider, error) {
	opts = append([]option.ClientOption{option.WithScopes(gmail.GmailSendScope)}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGmailProvider(service, to, logger), nil
}

func (*GmailProvider) Name() string { return "gmail" }

// mimeMessage builds the raw RFC 5322 message. The From address is set by
// Gmail from the authenticated account.
func mimeMessage(to string, m Message) string {
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "To: %s\r\n", sanitizeEmailHeader(to))
	fmt.Fprintf(&msg, "Subject: %s\r\n", emailSubject(m))
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(renderHTML(m))
	return msg.String()
}

// Send sends the message via the Gmail API.
func (g *GmailProvider) Send(ctx context.Context, m Message) error {
	encoded := base64.URLEncoding.EncodeToString([]byte(mimeMessage(g.to, m)))

	return retry.Do(
		func() error {
			g.logger.Info("Gmail API request starting",
				"method", "POST",
				"endpoint", "users.messages.send",
				"to", g.to,
				"title", m.Title)

			startTime := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"to", g.to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"to", g.to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail send after error", "attempt", n, "error", err)
		}),
	)
}
