// Package store persists match batches.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/skillmatch/internal/matching"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
	"github.com/efebarandurmaz/skillmatch/internal/source"
)

// Writer persists the matches of a round.
type Writer interface {
	// Name identifies the writer in logs.
	Name() string
	// WriteBatch stores every match of batch atomically. An empty batch is
	// a no-op.
	WriteBatch(ctx context.Context, batch matching.Batch) error
	// Close releases the underlying connection.
	Close() error
}

// Pinger is implemented by writers backed by a remote or on-disk database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Row is one persisted package to skill match.
type Row struct {
	PackageID   int64
	PackageName string
	SkillID     int64
	SkillName   string
	// Language is the optional programming language tag of the run.
	Language *string
}

// RowFromMatch converts a match whose query is a package and whose winner
// is a skill. An empty language is stored as NULL.
func RowFromMatch(m matching.Match, language string) (Row, error) {
	pkg, ok := m.Query.(source.Package)
	if !ok {
		return Row{}, fmt.Errorf("store: match query is %T, want source.Package", m.Query)
	}
	skill, ok := m.Winner.(source.Skill)
	if !ok {
		return Row{}, fmt.Errorf("store: match winner is %T, want source.Skill", m.Winner)
	}
	r := Row{
		PackageID:   pkg.Key(),
		PackageName: pkg.Label(),
		SkillID:     skill.Key(),
		SkillName:   skill.Label(),
	}
	if language != "" {
		r.Language = &language
	}
	return r, nil
}

// RowsFromBatch converts every match of batch.
func RowsFromBatch(batch matching.Batch, language string) ([]Row, error) {
	rows := make([]Row, 0, len(batch.Matches))
	for i, m := range batch.Matches {
		r, err := RowFromMatch(m, language)
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", i, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// MultiWriter writes every batch to several writers in order.
type MultiWriter struct {
	writers []Writer
	logger  *slog.Logger
	audit   *observability.AuditLogger
	metrics *observability.MatchMetrics
}

// NewMultiWriter creates a MultiWriter. A nil audit logger disables
// auditing; nil metrics are replaced with a private registry.
func NewMultiWriter(logger *slog.Logger, audit *observability.AuditLogger, metrics *observability.MatchMetrics, writers ...Writer) *MultiWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMatchMetrics()
	}
	return &MultiWriter{writers: writers, logger: logger, audit: audit, metrics: metrics}
}

// Name implements Writer.
func (w *MultiWriter) Name() string { return "multi" }

// WriteBatch stops at the first failing writer.
func (w *MultiWriter) WriteBatch(ctx context.Context, batch matching.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	for _, wr := range w.writers {
		err := wr.WriteBatch(ctx, batch)
		w.audit.LogStoreWrite(ctx, wr.Name(), batch.Round, batch.Len(), err)
		if err != nil {
			return fmt.Errorf("%s: %w", wr.Name(), err)
		}
		w.metrics.RowsWrittenTotal.Add(float64(batch.Len()))
		w.logger.Debug("batch written", "writer", wr.Name(), "round", batch.Round, "rows", batch.Len())
	}
	return nil
}

// Close closes every writer and joins their errors.
func (w *MultiWriter) Close() error {
	var errs []error
	for _, wr := range w.writers {
		if err := wr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", wr.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ Writer = (*MultiWriter)(nil)
