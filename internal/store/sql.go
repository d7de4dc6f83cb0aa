package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/efebarandurmaz/skillmatch/internal/matching"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
)

const createMatchesTable = `CREATE TABLE IF NOT EXISTS package_to_skill_matches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	programming_language_name TEXT,
	package_name TEXT NOT NULL,
	package_id INTEGER NOT NULL,
	skill_name TEXT NOT NULL,
	skill_id INTEGER NOT NULL
)`

const insertMatch = `INSERT INTO package_to_skill_matches
	(programming_language_name, package_name, package_id, skill_name, skill_id)
	VALUES (?, ?, ?, ?, ?)`

// SQLWriter stores matches in the package_to_skill_matches table.
type SQLWriter struct {
	db       *sql.DB
	language string
}

// OpenSQLite opens (creating if needed) the SQLite database at dsn and
// makes sure the matches table exists.
func OpenSQLite(ctx context.Context, dsn, language string) (*SQLWriter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	w, err := NewSQLWriter(ctx, db, language)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// NewSQLWriter uses an open database. The writer owns db from now on.
func NewSQLWriter(ctx context.Context, db *sql.DB, language string) (*SQLWriter, error) {
	if _, err := db.ExecContext(ctx, createMatchesTable); err != nil {
		return nil, fmt.Errorf("create matches table: %w", err)
	}
	return &SQLWriter{db: db, language: language}, nil
}

// Name implements Writer.
func (w *SQLWriter) Name() string { return "sqlite" }

// WriteBatch inserts every match inside one transaction.
func (w *SQLWriter) WriteBatch(ctx context.Context, batch matching.Batch) (err error) {
	if batch.Len() == 0 {
		return nil
	}
	rows, err := RowsFromBatch(batch, w.language)
	if err != nil {
		return err
	}

	ctx, span := observability.StartStoreSpan(ctx, w.Name(), len(rows))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertMatch)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, r.Language, r.PackageName, r.PackageID, r.SkillName, r.SkillID); err != nil {
			return fmt.Errorf("insert package %d: %w", r.PackageID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rows returns every stored match ordered by insertion.
func (w *SQLWriter) Rows(ctx context.Context) ([]Row, error) {
	rs, err := w.db.QueryContext(ctx, `SELECT programming_language_name, package_name, package_id, skill_name, skill_id
		FROM package_to_skill_matches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []Row
	for rs.Next() {
		var r Row
		var lang sql.NullString
		if err := rs.Scan(&lang, &r.PackageName, &r.PackageID, &r.SkillName, &r.SkillID); err != nil {
			return nil, err
		}
		if lang.Valid {
			r.Language = &lang.String
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

// Ping checks the database is reachable.
func (w *SQLWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the database.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}

var (
	_ Writer = (*SQLWriter)(nil)
	_ Pinger = (*SQLWriter)(nil)
)
