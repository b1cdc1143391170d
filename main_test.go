package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"webuntis-notifier/config"
	"webuntis-notifier/poll"
)

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, "json", "info")
		logger.Debug("hidden")
		logger.Info("Poll cycle completed", "duration_ms", 12)

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("output is not a single JSON line: %q", buf.String())
		}
		if line["msg"] != "Poll cycle completed" || line["duration_ms"] != float64(12) {
			t.Errorf("line = %v", line)
		}
	})

	t.Run("text debug", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, "text", "debug").Debug("No changes", "lesson_count", 6)
		if !strings.Contains(buf.String(), "lesson_count=6") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("error level drops warnings", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, "text", "error").Warn("Notification delivery failed")
		if buf.Len() != 0 {
			t.Errorf("output = %q, want nothing", buf.String())
		}
	})
}

func TestExitCode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name      string
		runErr    error
		serverErr error
		want      int
	}{
		{name: "signal", runErr: context.Canceled, want: 0},
		{name: "too many failures", runErr: poll.ErrTooManyFailures, want: 1},
		{name: "server failed", runErr: context.Canceled, serverErr: errors.New("address in use"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan error, 1)
			if tt.serverErr != nil {
				ch <- tt.serverErr
			}
			if got := exitCode(logger, tt.runErr, ch); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildProviders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("mock when nothing configured", func(t *testing.T) {
		providers, err := buildProviders(ctx, &config.Config{}, logger)
		if err != nil {
			t.Fatal(err)
		}
		if len(providers) != 1 || providers[0].Name() != "mock" {
			t.Errorf("providers = %v", providers)
		}
	})

	t.Run("discord and brevo", func(t *testing.T) {
		cfg := &config.Config{Notify: config.Notify{
			DiscordWebhookURL: "https://discord.com/api/webhooks/1/abc",
			BrevoAPIKey:       "k",
			BrevoFrom:         "bot@example.com",
			BrevoTo:           "parent@example.com",
		}}
		providers, err := buildProviders(ctx, cfg, logger)
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, p := range providers {
			names = append(names, p.Name())
		}
		if strings.Join(names, ",") != "discord,brevo" {
			t.Errorf("providers = %v", names)
		}
	})

	t.Run("invalid webhook", func(t *testing.T) {
		cfg := &config.Config{Notify: config.Notify{DiscordWebhookURL: "http://discord.com/api/webhooks/1/abc"}}
		if _, err := buildProviders(ctx, cfg, logger); err == nil {
			t.Error("buildProviders() accepted an http webhook")
		}
	})
}

func TestBuildStoreLocal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "data")

	store, closeStore, err := buildStore(context.Background(), &config.Config{LocalStorage: dir}, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer closeStore()

	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("local storage directory not created: %v", err)
	}
	snap, err := store.LoadBaseline(context.Background(), 1)
	if err != nil || snap != nil {
		t.Errorf("LoadBaseline() = %v, %v; want nil, nil", snap, err)
	}
}
