// Package metrics collects the end-of-run report printed by the CLI.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RunMetrics collects statistics for a full matching run.
type RunMetrics struct {
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at,omitempty"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	Language      string         `json:"language,omitempty"`
	Skills        int            `json:"skills"`
	Packages      int            `json:"packages"`
	Rounds        []RoundMetrics `json:"rounds"`
	TotalMatches  int            `json:"total_matches"`
	Unmatched     int            `json:"unmatched"`
	RowsWritten   int            `json:"rows_written"`
	Writers       []string       `json:"writers,omitempty"`
	LLMProvider   string         `json:"llm_provider"`
	LLMEndpoints  int            `json:"llm_endpoints"`
	Errors        []string       `json:"errors,omitempty"`
	StoppedReason string         `json:"stopped_reason,omitempty"`
}

type RoundMetrics struct {
	Round      int   `json:"round"`
	Matches    int   `json:"matches"`
	DurationMS int64 `json:"duration_ms"`
}

// New starts tracking a run.
func New() *RunMetrics {
	return &RunMetrics{StartedAt: time.Now()}
}

// SetInputs records the sizes of the two collections being matched.
func (m *RunMetrics) SetInputs(skills, packages int) {
	m.Skills = skills
	m.Packages = packages
	m.Unmatched = packages
}

// AddRound records one finished round.
func (m *RunMetrics) AddRound(round, matches int, d time.Duration) {
	m.Rounds = append(m.Rounds, RoundMetrics{
		Round:      round,
		Matches:    matches,
		DurationMS: d.Milliseconds(),
	})
	m.TotalMatches += matches
	m.Unmatched -= matches
}

// AddRows counts rows persisted by the output writers.
func (m *RunMetrics) AddRows(n int) {
	m.RowsWritten += n
}

// AddError records a non-fatal problem surfaced in the report.
func (m *RunMetrics) AddError(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err.Error())
	}
}

// Finish marks the run as complete.
func (m *RunMetrics) Finish(reason string) {
	m.FinishedAt = time.Now()
	m.DurationMS = m.FinishedAt.Sub(m.StartedAt).Milliseconds()
	m.StoppedReason = reason
}

// Duration is the wall time of the run, zero until Finish is called.
func (m *RunMetrics) Duration() time.Duration {
	return time.Duration(m.DurationMS) * time.Millisecond
}

// PrintSummary writes a human-readable summary.
func (m *RunMetrics) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║          SKILLMATCH REPORT           ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration())
	fmt.Fprintf(w, "║ LLM:         %-23s║\n", fmt.Sprintf("%s x%d", m.LLMProvider, m.LLMEndpoints))
	fmt.Fprintf(w, "║ Language:    %-23s║\n", orDash(m.Language))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ INPUTS\n")
	fmt.Fprintf(w, "║   Skills:      %d\n", m.Skills)
	fmt.Fprintf(w, "║   Packages:    %d\n", m.Packages)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ ROUNDS\n")
	for _, r := range m.Rounds {
		fmt.Fprintf(w, "║   round %-6d %6d matches  %s\n", r.Round, r.Matches, time.Duration(r.DurationMS)*time.Millisecond)
	}
	fmt.Fprintf(w, "║   Total:       %d matched, %d unmatched\n", m.TotalMatches, m.Unmatched)
	if m.StoppedReason != "" {
		fmt.Fprintf(w, "║   Stopped:     %s\n", m.StoppedReason)
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ OUTPUT\n")
	fmt.Fprintf(w, "║   Rows:        %d\n", m.RowsWritten)
	for _, name := range m.Writers {
		fmt.Fprintf(w, "║   • %s\n", name)
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the metrics as formatted JSON.
func (m *RunMetrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
