// Package server exposes the progress of a running match over HTTP:
// health and readiness probes, a progress document and the metrics
// registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck represents a single health check.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the response from health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker is a function that performs a health check.
type HealthChecker func(ctx context.Context) HealthCheck

// Progress is the live state of a run.
type Progress struct {
	Round     int       `json:"round"`
	Matched   int       `json:"matched"`
	Remaining int       `json:"remaining"`
	StartedAt time.Time `json:"started_at"`
	Done      bool      `json:"done"`
}

// StatusServer serves /healthz, /readyz, /status and, when a metrics
// handler is mounted, /metrics.
type StatusServer struct {
	mu       sync.RWMutex
	checks   map[string]HealthChecker
	ready    bool
	progress Progress
	metrics  http.Handler
	logger   *slog.Logger
	srv      *http.Server
}

// NewStatusServer creates a server. metrics may be nil.
func NewStatusServer(metrics http.Handler, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		checks:   make(map[string]HealthChecker),
		metrics:  metrics,
		logger:   logger,
		progress: Progress{StartedAt: time.Now().UTC()},
	}
}

// RegisterCheck adds a health check.
func (s *StatusServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the inputs as loaded and the rounds as started.
func (s *StatusServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// UpdateProgress records a finished round.
func (s *StatusServer) UpdateProgress(round, matches, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Round = round
	s.progress.Matched += matches
	s.progress.Remaining = remaining
}

// Finish marks the run as done.
func (s *StatusServer) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Done = true
}

// Progress returns a snapshot of the run state.
func (s *StatusServer) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Handler returns an http.Handler for every endpoint.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start listens on addr in the background.
func (s *StatusServer) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("status server stopped", "addr", addr, "error", err)
		}
	}()
	s.logger.Info("serving status", "addr", addr)
}

// Shutdown stops a server started with Start.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make([]HealthCheck, 0, len(names)),
	}
	for _, name := range names {
		check := checks[name](ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		if check.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if check.Status == HealthStatusDegraded && response.Status == HealthStatusHealthy {
			response.Status = HealthStatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

func (s *StatusServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	response := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
	if !ready {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Progress())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// PingChecker reports a dependency as unhealthy when ping fails.
func PingChecker(what string, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: what + " unreachable: " + err.Error(),
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: what + " OK"}
	}
}

// ErrorRateChecker reports the LLM pool as degraded once failed requests
// exceed maxRatio of all requests.
func ErrorRateChecker(total, failed func() float64, maxRatio float64) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		t := total()
		if t == 0 {
			return HealthCheck{Status: HealthStatusHealthy, Message: "no LLM requests yet"}
		}
		ratio := failed() / t
		if ratio > maxRatio {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "LLM error rate above threshold",
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "LLM error rate OK"}
	}
}
