package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/milterfrom/logger"
	"github.com/migadu/milterfrom/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves Prometheus metrics and a health endpoint.
type Server struct {
	addr        string
	metricsPath string
	limiters    map[string]metrics.StatsProvider
	started     time.Time
	server      *http.Server
}

// ServerOptions holds configuration options for the HTTP server
type ServerOptions struct {
	Addr        string
	MetricsPath string                           // defaults to /metrics
	Limiters    map[string]metrics.StatsProvider // reported by /health
}

// New creates a new HTTP server
func New(options ServerOptions) *Server {
	path := options.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr:        options.Addr,
		metricsPath: path,
		limiters:    options.Limiters,
		started:     time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func Start(ctx context.Context, options ServerOptions, errChan chan error) {
	s := New(options)
	logger.Info("Starting metrics server", "addr", options.Addr, "path", s.metricsPath)
	if err := s.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET", "HEAD")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

// LimiterStatus is the usage of one limiter.
type LimiterStatus struct {
	Current int64 `json:"current"`
	Max     int64 `json:"max"` // 0 = unlimited
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Uptime   string                   `json:"uptime"`
	Limiters map[string]LimiterStatus `json:"limiters,omitempty"`
}

// handleHealth reports "ok", or "saturated" with 503 once any limiter is at
// its maximum.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	status := http.StatusOK

	if len(s.limiters) > 0 {
		resp.Limiters = make(map[string]LimiterStatus, len(s.limiters))
		names := make([]string, 0, len(s.limiters))
		for name := range s.limiters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			stats := s.limiters[name].Stats()
			resp.Limiters[name] = LimiterStatus{Current: stats.Current, Max: stats.Max}
			if stats.Max > 0 && stats.Current >= stats.Max {
				resp.Status = "saturated"
				status = http.StatusServiceUnavailable
			}
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP: error encoding JSON response", "error", err)
	}
}
