// Package main runs a service that polls a WebUntis class timetable and
// notifies Discord or email recipients when today's lessons change.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"webuntis-notifier/config"
	"webuntis-notifier/notify"
	"webuntis-notifier/poll"
	"webuntis-notifier/server"
	"webuntis-notifier/storage"
	"webuntis-notifier/untis"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	logger := newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting WebUntis notifier",
		"school", cfg.School,
		"resource_id", cfg.ResourceID,
		"timezone", cfg.Location.String(),
		"rollover_hour", cfg.RolloverHour,
		"port", cfg.Port)

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize notification providers", "error", err)
		return 1
	}

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		return 1
	}
	defer closeStore()

	client, err := untis.New(untis.Config{
		School:          cfg.School,
		Username:        cfg.Username,
		Password:        cfg.Password,
		BaseURL:         cfg.BaseURL,
		SessionLifetime: cfg.SessionLifetime,
		Timeout:         cfg.HTTPTimeout,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize WebUntis client", "error", err)
		return 1
	}

	ctrl := poll.New(poll.Config{
		ResourceID:   cfg.ResourceID,
		Location:     cfg.Location,
		RolloverHour: cfg.RolloverHour,
		MaxFailures:  cfg.MaxFailures,
	}, client, notify.New(logger, providers...), store, logger)

	if err := ctrl.Restore(ctx); err != nil {
		logger.Warn("Failed to restore baseline, starting without one", "error", err)
	}

	serverErr := make(chan error, 1)
	var httpServer *http.Server
	if cfg.Port != "" {
		srv := server.New(ctrl, logger)
		httpServer = srv.HTTPServer(cfg.Port)
		go func() {
			if err := srv.ListenAndServe(httpServer); err != nil {
				serverErr <- err
				stop()
			}
		}()
	}

	runErr := ctrl.Run(ctx)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", "error", err)
		}
		cancel()
	}

	return exitCode(logger, runErr, serverErr)
}

// exitCode is 0 for a signal-driven shutdown and 1 for anything else.
func exitCode(logger *slog.Logger, runErr error, serverErr <-chan error) int {
	select {
	case err := <-serverErr:
		logger.Error("HTTP server failed", "error", err)
		return 1
	default:
	}
	if runErr == nil || errors.Is(runErr, context.Canceled) {
		logger.Info("Shutdown complete")
		return 0
	}
	logger.Error("Notifier stopped", "error", runErr)
	return 1
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]notify.Provider, error) {
	n := cfg.Notify
	var providers []notify.Provider

	if n.DiscordWebhookURL != "" {
		d, err := notify.NewDiscordProvider(n.DiscordWebhookURL, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, d)
	}

	if n.GmailTo != "" {
		var opts []option.ClientOption
		if n.GmailCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(n.GmailCredentialsJSON)))
		}
		g, err := notify.DialGmail(ctx, n.GmailTo, logger, opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, g)
	}

	if n.BrevoAPIKey != "" {
		providers = append(providers, notify.NewBrevoProvider(n.BrevoAPIKey, n.BrevoFrom, n.BrevoFromName, n.BrevoTo, logger))
	}

	if n.Mock || len(providers) == 0 {
		logger.Info("Mock notification mode enabled", "real_providers", len(providers))
		providers = append(providers, notify.NewMockProvider(logger))
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.Info("Notification providers configured", "providers", names)
	return providers, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Store, func(), error) {
	if cfg.LocalStorage != "" {
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create local storage directory: %w", err)
		}
		logger.Info("Using local storage", "storage_path", cfg.LocalStorage)
		return storage.New(nil, "", cfg.LocalStorage, logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.New(client, cfg.Bucket, "", logger), closeFn, nil
}
