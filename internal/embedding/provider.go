// Package embedding turns source items into L2-normalized embedding
// matrices, either from their raw text or from an LLM expansion of it.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/skillmatch/internal/source"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

// DefaultBatchSize is the number of items sent to the gateway per batch.
const DefaultBatchSize = 100

var (
	// ErrNoItems is returned when asked to embed an empty collection.
	ErrNoItems = errors.New("embedding: no items")
	// ErrBatchSize is returned for a non-positive batch size.
	ErrBatchSize = errors.New("embedding: batch size must be positive")
)

// Provider embeds items. Row i of the result belongs to items[i].
type Provider interface {
	Embeddings(ctx context.Context, items []source.Item) (vector.Matrix, error)
}

// Gateway is the subset of the LLM gateway the providers use.
type Gateway interface {
	Complete(ctx context.Context, template string, args [][]string) ([]string, error)
	EmbedNormalize(ctx context.Context, texts []string) (vector.Matrix, error)
}

// ValidateItems rejects empty collections and nil elements.
func ValidateItems(items []source.Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	for i, it := range items {
		if it == nil {
			return fmt.Errorf("item %d: %w", i, source.ErrNilItem)
		}
	}
	return nil
}

func textsToMatch(items []source.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.TextToMatch()
	}
	return out
}

// batches splits s into consecutive slices of at most size elements.
func batches(s []string, size int) [][]string {
	out := make([][]string, 0, (len(s)+size-1)/size)
	for start := 0; start < len(s); start += size {
		out = append(out, s[start:min(start+size, len(s))])
	}
	return out
}

// embedBatches runs embed over every batch concurrently and stacks the rows
// in input order. The gateway pool bounds how many requests are in flight.
func embedBatches(ctx context.Context, texts []string, size int, embed func(context.Context, []string) (vector.Matrix, error)) (vector.Matrix, error) {
	bs := batches(texts, size)
	parts := make([]vector.Matrix, len(bs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, b := range bs {
		eg.Go(func() error {
			m, err := embed(egCtx, b)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			if m.Rows() != len(b) {
				return fmt.Errorf("batch %d: %w: got %d rows for %d items", i, vector.ErrDimension, m.Rows(), len(b))
			}
			parts[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return vector.Matrix{}, err
	}
	return vector.Concat(parts...)
}
