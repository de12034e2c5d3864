package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// Registry is the read-only view of the connection registry the API needs.
type Registry interface {
	Count() int
	Others(identity string) []string
}

// Server exposes the relay's operational endpoints: GET /health and
// GET /stats. No business logic, only HTTP handling and JSON serialization.
type Server struct {
	registry Registry
	router   *http.ServeMux
	log      *slog.Logger
	started  time.Time
}

func NewServer(registry Registry, log *slog.Logger) *Server {
	s := &Server{
		registry: registry,
		router:   http.NewServeMux(),
		log:      log,
		started:  time.Now(),
	}
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
	s.router.Handle("/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
	Goroutines  int       `json:"goroutines"`
	UptimeSec   int64     `json:"uptime_seconds"`
}

type StatsResponse struct {
	Connections int      `json:"connections"`
	Identities  []string `json:"identities"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleHealth reports liveness. The relay has no external dependencies to
// probe, so a served response is itself the health signal.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Connections: s.registry.Count(),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSec:   int64(time.Since(s.started).Seconds()),
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("failed to encode health response", "error", err)
	}
}

// handleStats lists the authenticated identities currently registered.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identities := s.registry.Others("")
	response := StatsResponse{
		Connections: s.registry.Count(),
		Identities:  identities,
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("failed to encode stats response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
