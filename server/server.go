// Package server exposes the health and status endpoints of the notifier.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"webuntis-notifier/poll"
)

// Poller is the part of the poll controller the endpoints need.
type Poller interface {
	Status() poll.Status
	Trigger() bool
}

// Server handles HTTP requests.
type Server struct {
	poller Poller
	logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(poller Poller, logger *slog.Logger) *Server {
	return &Server{
		poller: poller,
		logger: logger,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /pollz", s.handlePoll)
	return mux
}

// HTTPServer wraps the routes in an http.Server with sane timeouts.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ListenAndServe serves until srv is shut down. A graceful shutdown is not
// an error.
func (s *Server) ListenAndServe(srv *http.Server) error {
	s.logger.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.poller.Status())
}

// handlePoll wakes the poll loop instead of running a cycle inline, so cycles
// never overlap.
func (s *Server) handlePoll(w http.ResponseWriter, _ *http.Request) {
	queued := s.poller.Trigger()
	s.logger.Info("Poll endpoint triggered", "queued", queued)

	status := "queued"
	if !queued {
		status = "already_pending"
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
