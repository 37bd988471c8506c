// Package status serves live pipeline progress over HTTP while a run is
// in flight. Enabled with --status-addr; the endpoint is read-only and
// unauthenticated, intended for local curl/watch use.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/catforge/internal/checkpoint"
)

// ProgressSource is the read side of the checkpoint store.
type ProgressSource interface {
	ProgressSnapshot() checkpoint.Progress
}

// NewHandler routes the status endpoints.
func NewHandler(src ProgressSource) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealthz)
	r.Get("/progress", handleProgress(src))

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleProgress(src ProgressSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(src.ProgressSnapshot())
	}
}

// Server is the optional status listener.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// Start begins serving in the background. Listen errors other than a
// clean shutdown are logged, never fatal: the pipeline keeps running
// without its status endpoint.
func Start(addr string, src ProgressSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(src),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}

	go func() {
		logger.Info("status endpoint listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("status endpoint stopped", "error", err)
		}
	}()
	return s
}

// Shutdown stops the listener, waiting up to the context's deadline.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("status endpoint shutdown", "error", err)
	}
}
