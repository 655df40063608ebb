// Package admin implements a small JSON HTTP surface exposing scheduler
// status, the plain-JSON sibling of a ConnectRPC admin API: GET /sessions
// reports the Manager's aggregate stats and GET /healthz reports liveness.
//
// Unlike the game's own wire protocol, this surface carries no flag
// tokens and has no bearing on gameplay correctness — it exists purely
// for operators and monitoring.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lattice-ctf/flagbroker/internal/game"
)

// StatsProvider is the subset of game.Manager the admin surface depends
// on. Keeping it as a small interface mirrors the teacher's
// thin-adapter-over-a-manager shape (internal/server.BFDServer wrapping
// bfd.Manager), adapted here to plain JSON instead of ConnectRPC.
type StatsProvider interface {
	Stats() game.Stats
}

// sessionsResponse is the body of GET /sessions.
type sessionsResponse struct {
	Stats game.Stats `json:"stats"`
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status string `json:"status"`
}

// Server is the admin HTTP server. It never blocks on game-session I/O:
// every handler only reads the Manager's already-aggregated counters.
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// New builds an admin Server bound to addr, backed by provider for its
// /sessions endpoint.
func New(addr string, provider StatsProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "admin"))

	mux := http.NewServeMux()

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, sessionsResponse{Stats: provider.Stats()})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, healthResponse{Status: "ok"})
	})

	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the admin surface's http.Handler, primarily for tests
// that want to drive it with httptest.Server rather than a real listener.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe runs the admin HTTP server until it is shut down. It
// returns http.ErrServerClosed once Shutdown completes; callers check
// for that sentinel to distinguish a clean exit from a real failure.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("encode response failed", slog.Any("error", err))
	}
}
