// Package api implements the operational HTTP endpoint: /healthz with
// database and scheduler-task health, and /metrics with engine counters.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spa1teN/tausendsassa/internal/scheduler"
	"github.com/spa1teN/tausendsassa/internal/store"
)

// Server is the ops HTTP server.
type Server struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	version   string

	http *http.Server
}

// NewServer creates the ops server listening on addr.
func NewServer(addr string, st *store.Store, sched *scheduler.Scheduler, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:     st,
		scheduler: sched,
		logger:    logger,
		version:   version,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", slog.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database string                 `json:"database"`
	Tasks    []scheduler.TaskStatus `json:"tasks"`
}

// handleHealth pings the database and reports scheduler task freshness.
// Returns 503 when the database is unreachable. A task that has gone more
// than three intervals without a run marks the status "degraded" but keeps
// the 200 response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Version:  s.version,
		Database: "ok",
		Tasks:    s.scheduler.Status(),
	}

	var one int
	if err := s.store.Pool().QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
	}

	now := time.Now()
	for _, task := range resp.Tasks {
		if task.LastRun.IsZero() {
			continue // not started yet
		}
		if now.Sub(task.LastRun) > 3*task.Interval {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
