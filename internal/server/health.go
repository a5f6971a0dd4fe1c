package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
)

// probeTimeout bounds each individual dependency probe so /api/ready answers
// promptly even when a dependency hangs instead of refusing.
const probeTimeout = 5 * time.Second

// Pinger is implemented by dependencies that can report their own
// reachability: the chat model backend and the vector store. Implementations
// must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error

	// Name is the short label used in readiness responses ("ollama",
	// "qdrant", ...).
	Name() string
}

// readyCheck is one dependency's probe result.
type readyCheck struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	// Error carries the failure reason; empty when OK.
	Error string `json:"error,omitempty"`
}

// readyResponse is the body of GET /api/ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleHealth is the liveness endpoint: 200 whenever the process can serve
// HTTP, regardless of dependency state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}

// handleReady probes every registered dependency and reports 200 when all
// are reachable, 503 otherwise. This is the readiness signal; /api/health
// stays 200 as long as the process is up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks, ready := s.runProbes(r.Context(), log)

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(readyResponse{Ready: ready, Checks: checks}); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}

// runProbes pings each dependency in registration order with its own
// timeout. It never short-circuits: operators see every failing dependency
// in one response.
func (s *Server) runProbes(ctx context.Context, log *slog.Logger) ([]readyCheck, bool) {
	ready := true
	checks := make([]readyCheck, 0, len(s.pingers))

	for _, p := range s.pingers {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Ping(probeCtx)
		cancel()

		c := readyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			c.Error = err.Error()
			ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", p.Name()),
				slog.Any("error", err),
			)
		}
		checks = append(checks, c)
	}
	return checks, ready
}
