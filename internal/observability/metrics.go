package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
// LLM requests are slow, so the upper buckets reach two minutes.
func DefaultBuckets() []float64 {
	return []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records the time elapsed since start.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Handler returns an HTTP handler for Prometheus metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text format, sorted by name.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func writeMetric(w io.Writer, name, metricType, help string, labels map[string]string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s%s %s\n", name, formatLabels(labels), formatFloat(value))
}

func writeHistogram(w io.Writer, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	// counts are already cumulative: Observe increments every bucket >= v
	for i, bound := range h.buckets {
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.counts[i])
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.count)
	fmt.Fprintf(w, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, formatLabels(h.labels), h.count)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range sortedKeys(labels) {
		parts = append(parts, k+"=\""+labels[k]+"\"")
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MatchMetrics contains the metrics recorded during a matching run.
type MatchMetrics struct {
	Registry *MetricsRegistry

	// LLM gateway
	CompletionRequestsTotal *Counter
	EmbedRequestsTotal      *Counter
	LLMRequestDuration      *Histogram
	LLMErrorsTotal          *Counter
	LLMInFlight             *Gauge

	// Filter
	FilterDecisionsTotal *Counter
	FilterRejectedTotal  *Counter
	FilterBelowMinTotal  *Counter
	FilterFallbacksTotal *Counter
	FilterFailedAttempts *Counter

	// Rounds
	RoundsTotal      *Counter
	RoundDuration    *Histogram
	MatchesTotal     *Counter
	RemainingRight   *Gauge
	RowsWrittenTotal *Counter
}

// NewMatchMetrics creates the matching metrics on a fresh registry.
func NewMatchMetrics() *MatchMetrics {
	r := NewMetricsRegistry()

	return &MatchMetrics{
		Registry: r,

		CompletionRequestsTotal: r.NewCounter("skillmatch_llm_completion_requests_total", "Total completion requests", nil),
		EmbedRequestsTotal:      r.NewCounter("skillmatch_llm_embed_requests_total", "Total embedding requests", nil),
		LLMRequestDuration:      r.NewHistogram("skillmatch_llm_request_duration_seconds", "LLM request duration", nil, nil),
		LLMErrorsTotal:          r.NewCounter("skillmatch_llm_errors_total", "Total failed LLM requests", nil),
		LLMInFlight:             r.NewGauge("skillmatch_llm_in_flight", "LLM requests currently holding an endpoint", nil),

		FilterDecisionsTotal: r.NewCounter("skillmatch_filter_decisions_total", "Candidates that received a winner", nil),
		FilterRejectedTotal:  r.NewCounter("skillmatch_filter_rejected_total", "Candidates the LLM classified as no match", nil),
		FilterBelowMinTotal:  r.NewCounter("skillmatch_filter_below_min_score_total", "Candidates rejected by the score threshold", nil),
		FilterFallbacksTotal: r.NewCounter("skillmatch_filter_fallbacks_total", "Candidates resolved to the first neighbour after failed attempts", nil),
		FilterFailedAttempts: r.NewCounter("skillmatch_filter_failed_attempts_total", "Unparseable or failed classification attempts", nil),

		RoundsTotal:      r.NewCounter("skillmatch_rounds_total", "Completed matching rounds", nil),
		RoundDuration:    r.NewHistogram("skillmatch_round_duration_seconds", "Round duration", nil, nil),
		MatchesTotal:     r.NewCounter("skillmatch_matches_total", "Total matches produced", nil),
		RemainingRight:   r.NewGauge("skillmatch_remaining_right", "Right items still unmatched", nil),
		RowsWrittenTotal: r.NewCounter("skillmatch_rows_written_total", "Match rows persisted", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *MatchMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordLLMRequest records one gateway request. op is OpComplete or OpEmbed.
func (m *MatchMetrics) RecordLLMRequest(op string, duration time.Duration, err error) {
	switch op {
	case OpEmbed:
		m.EmbedRequestsTotal.Inc()
	default:
		m.CompletionRequestsTotal.Inc()
	}
	m.LLMRequestDuration.Observe(duration.Seconds())
	if err != nil {
		m.LLMErrorsTotal.Inc()
	}
}

// RecordRound records a finished round.
func (m *MatchMetrics) RecordRound(duration time.Duration, matches, remaining int) {
	m.RoundsTotal.Inc()
	m.RoundDuration.Observe(duration.Seconds())
	m.MatchesTotal.Add(float64(matches))
	m.RemainingRight.Set(float64(remaining))
}

// Global metrics instance
var globalMetrics *MatchMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *MatchMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMatchMetrics()
	})
	return globalMetrics
}
