package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/efebarandurmaz/skillmatch/internal/embedding"
	"github.com/efebarandurmaz/skillmatch/internal/source"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

// neighbours is how many left items are retrieved per right item.
const neighbours = 2

type cacheState int

const (
	cacheEmpty cacheState = iota
	cacheReady
)

// rightCache holds the embeddings of the current right items. When ready,
// row i belongs to right[i].
type rightCache struct {
	state cacheState
	m     vector.Matrix
}

func (c *rightCache) reset() { *c = rightCache{} }

func (c *rightCache) set(m vector.Matrix) {
	c.state = cacheReady
	c.m = m
}

// Engine holds the two item sets of a run. Left items are searched; right
// items are the queries and shrink as they get matched. An Engine is driven
// by one goroutine at a time.
type Engine struct {
	left     map[int64]source.Item
	leftKeys []int64
	right    []source.Item
	cache    rightCache

	newIndex vector.IndexFactory
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithIndexFactory replaces the default in-memory inner-product index.
func WithIndexFactory(f vector.IndexFactory) EngineOption {
	return func(e *Engine) { e.newIndex = f }
}

// NewEngine creates an engine with no items.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		newIndex: vector.NewFlatIPFactory(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetLeft assigns the searched items. Every map key must equal its item's
// Key.
func (e *Engine) SetLeft(items map[int64]source.Item) error {
	if len(items) == 0 {
		return fmt.Errorf("left: %w", ErrNoItems)
	}
	for k, it := range items {
		if it == nil {
			return fmt.Errorf("left key %d: %w", k, source.ErrNilItem)
		}
		if it.Key() != k {
			return fmt.Errorf("left key %d holds item with key %d", k, it.Key())
		}
	}
	e.left = maps.Clone(items)
	e.leftKeys = slices.Sorted(maps.Keys(items))
	return nil
}

// SetRight assigns the query items and drops any cached right embeddings.
func (e *Engine) SetRight(items []source.Item) error {
	if len(items) == 0 {
		return fmt.Errorf("right: %w", ErrNoItems)
	}
	for i, it := range items {
		if it == nil {
			return fmt.Errorf("right item %d: %w", i, source.ErrNilItem)
		}
	}
	e.right = slices.Clone(items)
	e.cache.reset()
	return nil
}

// Left returns a copy of the left items.
func (e *Engine) Left() map[int64]source.Item {
	return maps.Clone(e.left)
}

// Right returns a copy of the right items not matched so far.
func (e *Engine) Right() []source.Item {
	return slices.Clone(e.right)
}

// RightLen returns the number of right items not matched so far.
func (e *Engine) RightLen() int {
	return len(e.right)
}

// EmbedAndSearch runs one round. Left items are embedded with left; right
// items with right, or, when right is nil, the embeddings cached by the
// previous round are reused. Each right item is searched among the left
// items, its two nearest neighbours go through filter, and matched right
// items are removed together with their cached rows.
func (e *Engine) EmbedAndSearch(ctx context.Context, left, right embedding.Provider, filter Filter) (Batch, error) {
	if len(e.left) == 0 || len(e.right) == 0 {
		return Batch{}, ErrNotConfigured
	}
	if right == nil && e.cache.state != cacheReady {
		return Batch{}, ErrNoCache
	}
	if left == nil {
		return Batch{}, errors.New("matching: left embedding provider is nil")
	}
	if filter == nil {
		return Batch{}, errors.New("matching: filter is nil")
	}

	e.logger.Info("embedding and searching", "right", len(e.right), "left", len(e.left), "reuse_right", right == nil)

	leftItems := make([]source.Item, len(e.leftKeys))
	for i, k := range e.leftKeys {
		leftItems[i] = e.left[k]
	}
	lm, err := left.Embeddings(ctx, leftItems)
	if err != nil {
		return Batch{}, fmt.Errorf("left embeddings: %w", err)
	}
	if lm.Rows() != len(leftItems) {
		return Batch{}, fmt.Errorf("left embeddings: %w: %d rows for %d items", vector.ErrDimension, lm.Rows(), len(leftItems))
	}

	if right != nil {
		rm, err := right.Embeddings(ctx, e.right)
		if err != nil {
			return Batch{}, fmt.Errorf("right embeddings: %w", err)
		}
		if rm.Rows() != len(e.right) {
			return Batch{}, fmt.Errorf("right embeddings: %w: %d rows for %d items", vector.ErrDimension, rm.Rows(), len(e.right))
		}
		e.cache.set(rm)
	}
	rm := e.cache.m

	if lm.Dim() != rm.Dim() {
		return Batch{}, fmt.Errorf("%w: left %d, right %d", vector.ErrDimension, lm.Dim(), rm.Dim())
	}

	candidates, err := e.search(ctx, lm, rm)
	if err != nil {
		return Batch{}, err
	}

	winners, err := filter.ChooseBestMatches(ctx, candidates)
	if err != nil {
		return Batch{}, fmt.Errorf("filter: %w", err)
	}
	if len(winners) != len(candidates) {
		return Batch{}, fmt.Errorf("filter returned %d results for %d candidates", len(winners), len(candidates))
	}

	var batch Batch
	var matched []int
	for i, w := range winners {
		if w == nil {
			continue
		}
		batch.Matches = append(batch.Matches, Match{Query: e.right[i], Winner: w})
		matched = append(matched, i)
	}
	e.removeRight(matched)

	e.logger.Info("validated matches", "candidates", len(candidates), "matches", len(batch.Matches), "remaining", len(e.right))
	return batch, nil
}

// search finds the two nearest left items of every right row.
func (e *Engine) search(ctx context.Context, lm, rm vector.Matrix) ([]Candidate, error) {
	idx, err := e.newIndex(ctx, lm.Dim())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	defer idx.Close()

	if err := idx.AddWithIDs(ctx, lm, e.leftKeys); err != nil {
		return nil, fmt.Errorf("index left embeddings: %w", err)
	}
	hits, err := idx.Search(ctx, rm, neighbours)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(hits) != len(e.right) {
		return nil, fmt.Errorf("search returned %d rows for %d queries", len(hits), len(e.right))
	}

	candidates := make([]Candidate, len(hits))
	for i, nb := range hits {
		if len(nb) == 0 {
			return nil, fmt.Errorf("search returned no neighbours for right item %d", i)
		}
		// with a single left item the only neighbour doubles as the second
		second := nb[0]
		if len(nb) > 1 {
			second = nb[1]
		}
		first, ok := e.left[nb[0].ID]
		if !ok {
			return nil, fmt.Errorf("search returned unknown left key %d", nb[0].ID)
		}
		sec, ok := e.left[second.ID]
		if !ok {
			return nil, fmt.Errorf("search returned unknown left key %d", second.ID)
		}
		candidates[i] = Candidate{
			Query:       e.right[i],
			First:       first,
			FirstScore:  nb[0].Score,
			Second:      sec,
			SecondScore: second.Score,
		}
	}
	return candidates, nil
}

// removeRight drops the right items at the given ascending indexes and their
// cached embeddings, keeping the order of the rest.
func (e *Engine) removeRight(idx []int) {
	if len(idx) == 0 {
		return
	}
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}
	kept := e.right[:0:0]
	for i, it := range e.right {
		if _, ok := drop[i]; !ok {
			kept = append(kept, it)
		}
	}
	e.right = kept
	e.cache.set(e.cache.m.DeleteRows(idx))
}
