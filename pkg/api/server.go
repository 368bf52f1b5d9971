package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bastionhq/bastion/pkg/breaker"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/rolecache"
	"github.com/bastionhq/bastion/pkg/webhook"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Server exposes Bastion's HTTP surface: the inbound webhook endpoint,
// the role admin endpoints, and the read-only ops surface
type Server struct {
	orchestrator *Orchestrator
	roles        *rolecache.Service
	breaker      *breaker.Breaker
	handler      *webhook.Mux
	mux          *http.ServeMux
	logger       zerolog.Logger
	httpServer   *http.Server
}

// Orchestrator is the webhook subsystem surface the server consumes
type Orchestrator = webhook.Orchestrator

// NewServer creates the HTTP server and registers all routes
func NewServer(orch *Orchestrator, roles *rolecache.Service, cb *breaker.Breaker, handler *webhook.Mux) *Server {
	mux := http.NewServeMux()
	s := &Server{
		orchestrator: orch,
		roles:        roles,
		breaker:      cb,
		handler:      handler,
		mux:          mux,
		logger:       log.WithComponent("api"),
	}

	// Ingestion
	mux.HandleFunc("POST /webhooks/{source}", s.instrument("/webhooks", s.handleWebhook))

	// Role administration
	mux.HandleFunc("PUT /roles/{userID}", s.instrument("/roles", s.handleAssignRole))
	mux.HandleFunc("GET /roles/{userID}", s.instrument("/roles", s.handleGetRole))
	mux.HandleFunc("DELETE /roles/{userID}", s.instrument("/roles", s.handleRevokeRole))
	mux.HandleFunc("POST /roles/invalidate", s.instrument("/roles/invalidate", s.handleBatchInvalidate))

	// Ops / introspection
	mux.HandleFunc("GET /ops/stats", s.instrument("/ops/stats", s.handleStats))
	mux.HandleFunc("GET /ops/records", s.instrument("/ops/records", s.handleRecentRecords))
	mux.HandleFunc("GET /ops/records/{correlationID}", s.instrument("/ops/records", s.handleRecordsByCorrelation))
	mux.HandleFunc("GET /ops/deadletters", s.instrument("/ops/deadletters", s.handleDeadLetters))
	mux.HandleFunc("POST /ops/deadletters/{eventID}/replay", s.instrument("/ops/deadletters", s.handleReplay))
	mux.HandleFunc("POST /ops/deadletters/retry-all", s.instrument("/ops/deadletters", s.handleRetryAll))

	// Health and metrics
	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Handler returns the root handler, used directly by tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// instrument wraps a handler with request counting by path and status
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(path, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
