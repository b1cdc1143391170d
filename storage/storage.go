// Package storage persists the accepted timetable baseline so a restart does
// not lose it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"webuntis-notifier/pkg/timetable"
)

// Store keeps one baseline object per resource, either in a Cloud Storage
// bucket or, when localPath is set, in a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler. client may be nil in local mode.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// BaselineKey is the object name of the baseline for resourceID.
func BaselineKey(resourceID int) string {
	return fmt.Sprintf("baseline-%d.json", resourceID)
}

func (s *Store) logRetry(op, key string) func(uint, error) {
	return func(n uint, retryErr error) {
		s.logger.Info("Retrying storage operation after error", "operation", op, "attempt", n, "key", key, "error", retryErr)
	}
}

// SaveBaseline replaces the stored baseline of snap.ResourceID.
func (s *Store) SaveBaseline(ctx context.Context, snap *timetable.Snapshot) error {
	key := BaselineKey(snap.ResourceID)
	s.logger.Debug("Saving baseline", "key", key, "date", snap.Date.String())

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		// Write then rename so a crash never leaves a truncated baseline.
		tmp := filePath + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		if err := os.Rename(tmp, filePath); err != nil {
			return fmt.Errorf("rename in local storage: %w", err)
		}
		s.logger.Info("Baseline saved to local storage", "path", filePath, "date", snap.Date.String(), "lesson_count", len(snap.Lessons))
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(s.logRetry("save", key)),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Baseline saved", "key", key, "date", snap.Date.String(), "lesson_count", len(snap.Lessons))
	return nil
}

// LoadBaseline returns the stored baseline of resourceID, or nil, nil when
// there is none.
func (s *Store) LoadBaseline(ctx context.Context, resourceID int) (*timetable.Snapshot, error) {
	key := BaselineKey(resourceID)

	var data []byte
	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		missing := false
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						missing = true
						return nil
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(s.logRetry("load", key)),
		)
		if err != nil {
			return nil, fmt.Errorf("load after retries: %w", err)
		}
		if missing {
			return nil, nil
		}
	}

	var snap timetable.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal baseline %s: %w", key, err)
	}
	return &snap, nil
}

// DeleteBaseline removes the stored baseline of resourceID. Deleting a
// missing baseline is not an error.
func (s *Store) DeleteBaseline(ctx context.Context, resourceID int) error {
	key := BaselineKey(resourceID)
	s.logger.Debug("Deleting baseline", "key", key)

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		s.logger.Info("Baseline deleted from local storage", "path", filePath)
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(s.logRetry("delete", key)),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	s.logger.Info("Baseline deleted", "key", key)
	return nil
}
