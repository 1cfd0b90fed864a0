// Package opsserver is the optional local observability surface: /healthz
// and /metrics over gorilla/mux. Grounded directly on the teacher's
// healthcheck.go (uptime-since-start /healthz) and metrics.go (normalized
// per-endpoint request counters, RWMutex-guarded).
package opsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nickmisasi/governance-engine/logging"
)

// pathNormalizers collapse path parameters the same way the teacher's
// apiPathNormalizers do, so /metrics doesn't fragment into one counter per
// distinct thread id.
var pathNormalizers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{pattern: regexp.MustCompile(`^/v0/threads/[^/]+$`), replacement: "/v0/threads/{id}"},
}

func normalizePath(path string) string {
	for _, n := range pathNormalizers {
		if n.pattern.MatchString(path) {
			return n.pattern.ReplaceAllLiteralString(path, n.replacement)
		}
	}
	return path
}

// Server hosts /healthz and /metrics for one governance-engine process.
type Server struct {
	mu           sync.RWMutex
	counts       map[string]int
	startedAt    time.Time
	httpServer   *http.Server
	log          logging.Logger
}

func New(addr string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop{}
	}
	s := &Server{
		counts:    map[string]int{},
		startedAt: time.Now(),
		log:       logger,
	}

	r := mux.NewRouter()
	r.Use(s.countingMiddleware)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) countingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r.Method + " " + normalizePath(r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
}

func (s *Server) snapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// HealthzResponse mirrors the teacher's HealthzResponse shape.
type HealthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := HealthzResponse{Status: "ok", Uptime: time.Since(s.startedAt).String()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("failed to encode /healthz response", "error", err.Error())
	}
}

// MetricsResponse mirrors the teacher's MetricsResponse shape.
type MetricsResponse struct {
	RequestCounts map[string]int `json:"request_counts"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := MetricsResponse{RequestCounts: s.snapshot()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("failed to encode /metrics response", "error", err.Error())
	}
}

// ListenAndServe starts the HTTP server; it blocks until the server stops
// or fails.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying mux.Router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
