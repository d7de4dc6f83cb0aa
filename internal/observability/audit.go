package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventRunStart       AuditEventType = "run.start"
	AuditEventRunEnd         AuditEventType = "run.end"
	AuditEventRound          AuditEventType = "round.complete"
	AuditEventFilterDecision AuditEventType = "filter.decision"
	AuditEventStoreWrite     AuditEventType = "store.write"
	AuditEventLLMError       AuditEventType = "llm.error"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	Round       *int           `json:"round,omitempty"`
	Success     bool           `json:"success"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// FilterDecision describes how one candidate was resolved by the filter.
type FilterDecision struct {
	Query       string  `json:"query"`
	First       string  `json:"first"`
	FirstScore  float32 `json:"first_score"`
	Second      string  `json:"second"`
	SecondScore float32 `json:"second_score"`
	// Outcome is "first", "second", "none", "below_min_score" or "fallback".
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
	// Answers holds the raw answers of every attempt, thinking tags removed.
	Answers []string `json:"answers,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	return newAuditLogger(writer, config.SessionID, config.Enabled), nil
}

// NewAuditWriter creates an enabled audit logger that writes to w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	return newAuditLogger(w, sessionID, true)
}

// Disabled returns a logger that drops every event.
func Disabled() *AuditLogger {
	return &AuditLogger{enabled: false}
}

func newAuditLogger(w io.Writer, sessionID string, enabled bool) *AuditLogger {
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return &AuditLogger{
		writer:    w,
		sessionID: sessionID,
		enabled:   enabled,
	}
}

// Log writes an audit event. It is safe for concurrent use and a nil
// logger is a no-op.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogRunStart logs the start of a matching run.
func (l *AuditLogger) LogRunStart(ctx context.Context, skills, packages int, params map[string]string) {
	l.Log(&AuditEvent{
		EventType: AuditEventRunStart,
		Success:   true,
		Message:   fmt.Sprintf("Matching %d packages against %d skills", packages, skills),
		Details: map[string]any{
			"skills":   skills,
			"packages": packages,
			"params":   params,
		},
	})
}

// LogRunEnd logs the end of a matching run.
func (l *AuditLogger) LogRunEnd(ctx context.Context, rounds, matches int, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType:  AuditEventRunEnd,
		Success:    err == nil,
		DurationMS: duration.Milliseconds(),
		Message:    fmt.Sprintf("Run finished after %d rounds with %d matches", rounds, matches),
		Details: map[string]any{
			"rounds":  rounds,
			"matches": matches,
		},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogRound logs a completed round.
func (l *AuditLogger) LogRound(ctx context.Context, round, matches, remaining int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType:  AuditEventRound,
		Round:      &round,
		Success:    true,
		DurationMS: duration.Milliseconds(),
		Message:    fmt.Sprintf("Round %d: %d matches, %d remaining", round, matches, remaining),
		Details: map[string]any{
			"matches":   matches,
			"remaining": remaining,
		},
	})
}

// LogFilterDecision logs how the filter resolved a candidate.
func (l *AuditLogger) LogFilterDecision(ctx context.Context, d FilterDecision) {
	l.Log(&AuditEvent{
		EventType: AuditEventFilterDecision,
		Success:   d.Outcome != "none" && d.Outcome != "below_min_score",
		Message:   fmt.Sprintf("%s -> %s", d.Query, d.Outcome),
		Details: map[string]any{
			"decision": d,
		},
	})
}

// LogStoreWrite logs a persisted batch.
func (l *AuditLogger) LogStoreWrite(ctx context.Context, writer string, round, rows int, err error) {
	event := &AuditEvent{
		EventType: AuditEventStoreWrite,
		Round:     &round,
		Success:   err == nil,
		Message:   fmt.Sprintf("%s: %d rows", writer, rows),
		Details: map[string]any{
			"writer": writer,
			"rows":   rows,
		},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogLLMError logs a failed gateway request.
func (l *AuditLogger) LogLLMError(ctx context.Context, op, endpoint string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM %s error from %s", op, endpoint),
		ErrorDetail: err.Error(),
		Details: map[string]any{
			"op":       op,
			"endpoint": endpoint,
		},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
