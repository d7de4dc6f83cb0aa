// Package matching searches right items (packages) among left items
// (skills) by embedding similarity, lets an LLM pick between the two
// nearest neighbours, and repeats in rounds until matches dry up.
package matching

import (
	"errors"

	"github.com/efebarandurmaz/skillmatch/internal/source"
)

var (
	// ErrNotConfigured is returned when the engine is used before both item
	// sets are assigned.
	ErrNotConfigured = errors.New("matching: left and right items must be set")
	// ErrNoCache is returned when right embeddings are to be reused but none
	// have been computed since the right items were assigned.
	ErrNoCache = errors.New("matching: no cached right embeddings")
	// ErrNoItems is returned when assigning an empty item set.
	ErrNoItems = errors.New("matching: no items")
)

// Candidate is a right item with its two nearest left items. Scores are
// inner products of normalized embeddings, higher is closer, and
// FirstScore >= SecondScore.
type Candidate struct {
	Query       source.Item
	First       source.Item
	FirstScore  float32
	Second      source.Item
	SecondScore float32
}

// Match pairs a right item with the left item chosen for it.
type Match struct {
	Query  source.Item
	Winner source.Item
}

// Batch is the outcome of one round, ordered like the right items were.
type Batch struct {
	Round   int
	Matches []Match
}

// Len returns the number of matches in the batch.
func (b Batch) Len() int { return len(b.Matches) }
