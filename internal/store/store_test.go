package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/efebarandurmaz/skillmatch/internal/matching"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
	"github.com/efebarandurmaz/skillmatch/internal/source"
)

var (
	csharp  = source.Skill{ID: 1, Name: "C#", Path: `\Languages\C#`}
	sqlSk   = source.Skill{ID: 3, Name: "SQL", Path: `\Databases\SQL`}
	serilog = source.Package{ID: 10, Title: "Serilog", Description: "structured logging"}
	dapper  = source.Package{ID: 11, Title: "Dapper", Description: "micro ORM"}
)

func testBatch() matching.Batch {
	return matching.Batch{Round: 2, Matches: []matching.Match{
		{Query: serilog, Winner: csharp},
		{Query: dapper, Winner: sqlSk},
	}}
}

func TestRowFromMatch(t *testing.T) {
	r, err := RowFromMatch(matching.Match{Query: serilog, Winner: csharp}, "C#")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.PackageID != 10 || r.PackageName != "Serilog" || r.SkillID != 1 || r.SkillName != "C#" {
		t.Errorf("unexpected row %+v", r)
	}
	if r.Language == nil || *r.Language != "C#" {
		t.Errorf("language = %v", r.Language)
	}

	r, _ = RowFromMatch(matching.Match{Query: serilog, Winner: csharp}, "")
	if r.Language != nil {
		t.Error("empty language must be stored as NULL")
	}

	if _, err := RowFromMatch(matching.Match{Query: csharp, Winner: csharp}, ""); err == nil {
		t.Error("expected error for skill query")
	}
	if _, err := RowFromMatch(matching.Match{Query: serilog, Winner: dapper}, ""); err == nil {
		t.Error("expected error for package winner")
	}
}

func TestSQLWriter_WriteBatch(t *testing.T) {
	ctx := context.Background()
	w, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "out.db"), "C#")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer w.Close()

	var _ Pinger = w
	if err := w.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := w.WriteBatch(ctx, testBatch()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := w.WriteBatch(ctx, matching.Batch{Round: 3}); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	rows, err := w.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].PackageName != "Serilog" || rows[1].SkillID != 3 {
		t.Errorf("unexpected rows %+v", rows)
	}
	if rows[0].Language == nil || *rows[0].Language != "C#" {
		t.Errorf("language not stored: %v", rows[0].Language)
	}
}

func TestSQLWriter_InvalidBatchStoresNothing(t *testing.T) {
	ctx := context.Background()
	w, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "out.db"), "")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer w.Close()

	bad := testBatch()
	bad.Matches = append(bad.Matches, matching.Match{Query: csharp, Winner: csharp})
	if err := w.WriteBatch(ctx, bad); err == nil {
		t.Fatal("expected error")
	}

	rows, err := w.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after failed batch, got %d", len(rows))
	}
}

func TestSQLWriter_ReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out.db")

	w, err := OpenSQLite(ctx, path, "")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := w.WriteBatch(ctx, testBatch()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	w.Close()

	w, err = OpenSQLite(ctx, path, "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w.Close()
	rows, _ := w.Rows(ctx)
	if len(rows) != 2 || rows[0].Language != nil {
		t.Fatalf("unexpected rows after reopen %+v", rows)
	}
}

func TestGraphParams(t *testing.T) {
	rows, err := RowsFromBatch(testBatch(), "")
	if err != nil {
		t.Fatalf("RowsFromBatch: %v", err)
	}
	p := graphParams(2, rows)
	if p["round"] != 2 {
		t.Errorf("round = %v", p["round"])
	}
	list := p["rows"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(list))
	}
	first := list[0].(map[string]any)
	if first["package_id"] != int64(10) || first["skill_name"] != "C#" || first["language"] != nil {
		t.Errorf("unexpected first row %v", first)
	}
}

type memWriter struct {
	name     string
	batches  []matching.Batch
	err      error
	closed   bool
	closeErr error
}

func (m *memWriter) Name() string { return m.name }

func (m *memWriter) WriteBatch(_ context.Context, b matching.Batch) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, b)
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return m.closeErr
}

func TestMultiWriter(t *testing.T) {
	a := &memWriter{name: "a"}
	b := &memWriter{name: "b"}
	var audit bytes.Buffer
	metrics := observability.NewMatchMetrics()
	w := NewMultiWriter(nil, observability.NewAuditWriter(&audit, "t"), metrics, a, b)

	if err := w.WriteBatch(context.Background(), testBatch()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := w.WriteBatch(context.Background(), matching.Batch{}); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if len(a.batches) != 1 || len(b.batches) != 1 {
		t.Fatalf("expected one batch per writer, got %d and %d", len(a.batches), len(b.batches))
	}
	if metrics.RowsWrittenTotal.Value() != 4 {
		t.Errorf("rows written = %v", metrics.RowsWrittenTotal.Value())
	}
	if got := strings.Count(audit.String(), `"store.write"`); got != 2 {
		t.Errorf("expected 2 audit events, got %d", got)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("expected all writers closed")
	}
}

func TestMultiWriter_StopsAtFirstFailure(t *testing.T) {
	a := &memWriter{name: "a", err: errors.New("disk full"), closeErr: errors.New("close a")}
	b := &memWriter{name: "b", closeErr: errors.New("close b")}
	w := NewMultiWriter(nil, nil, nil, a, b)

	err := w.WriteBatch(context.Background(), testBatch())
	if err == nil || !strings.Contains(err.Error(), "a: disk full") {
		t.Fatalf("unexpected error %v", err)
	}
	if len(b.batches) != 0 {
		t.Error("writers after a failure must not run")
	}

	err = w.Close()
	if err == nil || !strings.Contains(err.Error(), "close a") || !strings.Contains(err.Error(), "close b") {
		t.Fatalf("expected joined close errors, got %v", err)
	}
}
