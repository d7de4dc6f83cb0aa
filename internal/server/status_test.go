package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusServer_Ready(t *testing.T) {
	s := NewStatusServer(nil, nil)
	h := s.Handler()

	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: status %d", rec.Code)
	}
	s.SetReady(true)
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("after ready: status %d", rec.Code)
	}
}

func TestStatusServer_HealthAggregation(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]HealthChecker
		wantCode int
		want     HealthStatus
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			want:     HealthStatusHealthy,
		},
		{
			name: "degraded stays 200",
			checks: map[string]HealthChecker{
				"ok":  PingChecker("sqlite", func(context.Context) error { return nil }),
				"llm": ErrorRateChecker(func() float64 { return 10 }, func() float64 { return 6 }, 0.5),
			},
			wantCode: http.StatusOK,
			want:     HealthStatusDegraded,
		},
		{
			name: "unhealthy wins",
			checks: map[string]HealthChecker{
				"llm":   ErrorRateChecker(func() float64 { return 10 }, func() float64 { return 6 }, 0.5),
				"neo4j": PingChecker("neo4j", func(context.Context) error { return errors.New("connection refused") }),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     HealthStatusUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatusServer(nil, nil)
			for name, c := range tt.checks {
				s.RegisterCheck(name, c)
			}
			rec := get(t, s.Handler(), "/healthz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("status = %s, want %s", resp.Status, tt.want)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("checks = %d, want %d", len(resp.Checks), len(tt.checks))
			}
		})
	}
}

func TestStatusServer_Progress(t *testing.T) {
	s := NewStatusServer(nil, nil)
	s.UpdateProgress(0, 25, 15)
	s.UpdateProgress(1, 10, 5)
	s.Finish()

	rec := get(t, s.Handler(), "/status")
	var p Progress
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Round != 1 || p.Matched != 35 || p.Remaining != 5 || !p.Done {
		t.Errorf("progress = %+v", p)
	}
}

func TestStatusServer_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("skillmatch_rounds_total 2\n"))
	})
	rec := get(t, NewStatusServer(metrics, nil).Handler(), "/metrics")
	if !strings.Contains(rec.Body.String(), "skillmatch_rounds_total 2") {
		t.Errorf("metrics body = %q", rec.Body.String())
	}

	if rec := get(t, NewStatusServer(nil, nil).Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler: status %d", rec.Code)
	}
}

func TestErrorRateChecker_NoRequests(t *testing.T) {
	c := ErrorRateChecker(func() float64 { return 0 }, func() float64 { return 0 }, 0.5)
	if got := c(context.Background()); got.Status != HealthStatusHealthy {
		t.Errorf("status = %s", got.Status)
	}
}
