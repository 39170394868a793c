// Package api exposes the fabric's optional HTTP surface for external
// enqueue and monitoring, per SPEC_FULL.md §9.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kernelfabric/fabric/internal/health"
	"github.com/kernelfabric/fabric/internal/orchestrator"
)

// MetricsHandler is satisfied by internal/metrics.Collector; kept as an
// interface here so pkg/api doesn't need to import internal/metrics
// directly for the one method it uses.
type MetricsHandler interface {
	Handler() http.Handler
}

// Server exposes health, metrics, and task-enqueue endpoints over HTTP.
type Server struct {
	httpServer   *http.Server
	monitor      *health.Monitor
	orchestrator *orchestrator.Orchestrator
	metrics      MetricsHandler
	config       ServerConfig
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Address       string        `json:"address"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	IdleTimeout   time.Duration `json:"idle_timeout"`
	EnableCORS    bool          `json:"enable_cors"`
	EnableMetrics bool          `json:"enable_metrics"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:8090",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableCORS:    true,
		EnableMetrics: true,
	}
}

// NewServer wires the monitor, orchestrator, and metrics collector into an
// HTTP mux. orchestrator and metrics may be nil: a nil orchestrator makes
// /tasks report 503, and a nil metrics handler leaves /metrics unregistered.
func NewServer(config ServerConfig, monitor *health.Monitor, orch *orchestrator.Orchestrator, metrics MetricsHandler) *Server {
	s := &Server{
		monitor:      monitor,
		orchestrator: orch,
		metrics:      metrics,
		config:       config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/info", s.handleInfo)

	if config.EnableMetrics && metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error {
	log.Printf("starting fabric API server on %s", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("fabric API server error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GET /health — overall status, per-component detail via internal/health.Monitor.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.monitor == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "health monitoring not configured",
		})
		return
	}

	report := s.monitor.DetailedStatus()

	statusCode := http.StatusOK
	if !s.monitor.IsHealthy() {
		statusCode = http.StatusPartialContent
	}
	s.respondJSON(w, statusCode, report)
}

// GET /health/live — liveness probe: is the process running at all.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// GET /health/ready — readiness probe: can the fabric accept new tasks.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.monitor == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "health monitoring not configured",
		})
		return
	}

	ready := s.monitor.IsHealthy()
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

type enqueueRequest struct {
	Payload  []byte `json:"payload"`
	Priority int    `json:"priority"`
}

// POST /tasks — external enqueue into the orchestrator, per SPEC_FULL.md
// §9's "an external interface, not part of the out-of-scope CLI surface."
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.orchestrator == nil {
		s.respondError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req enqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := s.orchestrator.Enqueue(req.Payload, req.Priority)
	s.respondJSON(w, http.StatusAccepted, task)
}

// GET /info — endpoint listing.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	endpoints := []string{"/health", "/health/live", "/health/ready", "/tasks", "/info"}
	if s.config.EnableMetrics && s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "kernelfabric API",
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("api: %s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("api: error encoding JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
