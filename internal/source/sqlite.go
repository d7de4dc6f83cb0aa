package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DefaultSkillPathPatterns keeps the .NET and C# branches of the taxonomy.
var DefaultSkillPathPatterns = []string{"%.NET%", "%C#%"}

// LoadSkillsSQLite reads skills from the Skills table of the SQLite database
// at dsn. Only rows whose path matches one of the LIKE patterns are returned;
// an empty pattern list returns every row.
func LoadSkillsSQLite(ctx context.Context, dsn string, patterns []string) (map[int64]Skill, error) {
	if dsn == "" {
		return nil, fmt.Errorf("skills dsn is empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open skills db: %w", err)
	}
	defer db.Close()

	query, args := skillsQuery(patterns)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query skills: %w", err)
	}
	defer rows.Close()

	skills := make(map[int64]Skill)
	for rows.Next() {
		var s Skill
		if err := rows.Scan(&s.ID, &s.Name, &s.Path); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read skills: %w", err)
	}
	return skills, nil
}

func skillsQuery(patterns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT id, name, path FROM Skills")
	args := make([]any, 0, len(patterns))
	for i, p := range patterns {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" OR ")
		}
		b.WriteString("path LIKE ?")
		args = append(args, p)
	}
	b.WriteString(" ORDER BY id ASC")
	return b.String(), args
}
