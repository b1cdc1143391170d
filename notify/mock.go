package notify

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs messages instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

func (*MockProvider) Name() string { return "mock" }

// Send logs the message.
func (m *MockProvider) Send(_ context.Context, msg Message) error {
	m.logger.Info("MOCK NOTIFICATION",
		"title", msg.Title,
		"body_length", len(msg.Body),
		"fields", len(msg.Fields))
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// Sent returns the messages seen so far.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
