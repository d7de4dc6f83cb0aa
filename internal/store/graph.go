package store

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/skillmatch/internal/matching"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
)

const mergeMatches = "UNWIND $rows AS row " +
	"MERGE (p:Package {id: row.package_id}) SET p.name = row.package_name " +
	"MERGE (s:Skill {id: row.skill_id}) SET s.name = row.skill_name " +
	"MERGE (p)-[r:REQUIRES_SKILL]->(s) SET r.language = row.language, r.round = $round"

// GraphWriter stores matches as (:Package)-[:REQUIRES_SKILL]->(:Skill)
// relationships in Neo4j.
type GraphWriter struct {
	driver   neo4j.DriverWithContext
	language string
}

// OpenNeo4j connects to Neo4j and verifies connectivity.
func OpenNeo4j(ctx context.Context, uri, username, password, language string) (*GraphWriter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &GraphWriter{driver: driver, language: language}, nil
}

// Name implements Writer.
func (w *GraphWriter) Name() string { return "neo4j" }

// Ping checks the server is reachable.
func (w *GraphWriter) Ping(ctx context.Context) error {
	return w.driver.VerifyConnectivity(ctx)
}

// WriteBatch merges every match in one write transaction.
func (w *GraphWriter) WriteBatch(ctx context.Context, batch matching.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	rows, err := RowsFromBatch(batch, w.language)
	if err != nil {
		return err
	}

	ctx, span := observability.StartStoreSpan(ctx, w.Name(), len(rows))
	defer span.End()

	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, mergeMatches, graphParams(batch.Round, rows))
		return nil, err
	})
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("merge round %d: %w", batch.Round, err)
	}
	return nil
}

// graphParams builds the query parameters for mergeMatches.
func graphParams(round int, rows []Row) map[string]any {
	list := make([]any, len(rows))
	for i, r := range rows {
		var lang any
		if r.Language != nil {
			lang = *r.Language
		}
		list[i] = map[string]any{
			"package_id":   r.PackageID,
			"package_name": r.PackageName,
			"skill_id":     r.SkillID,
			"skill_name":   r.SkillName,
			"language":     lang,
		}
	}
	return map[string]any{"rows": list, "round": round}
}

// Close closes the driver.
func (w *GraphWriter) Close() error {
	return w.driver.Close(context.Background())
}

var (
	_ Writer = (*GraphWriter)(nil)
	_ Pinger = (*GraphWriter)(nil)
)
