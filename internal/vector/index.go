package vector

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Neighbor is one search hit. Score is the inner product with the query;
// higher is closer.
type Neighbor struct {
	ID    int64
	Score float32
}

// Index is a similarity index over integer-keyed vectors using inner
// product. On L2-normalized vectors that is cosine similarity.
type Index interface {
	// AddWithIDs inserts one vector per id.
	AddWithIDs(ctx context.Context, vectors Matrix, ids []int64) error
	// Search returns, for every query row, up to k neighbors ordered by
	// descending score.
	Search(ctx context.Context, queries Matrix, k int) ([][]Neighbor, error)
	// Len returns the number of indexed vectors.
	Len() int
	// Close releases resources held by the index.
	Close() error
}

// IndexFactory builds an empty index for vectors of length dim.
type IndexFactory func(ctx context.Context, dim int) (Index, error)

// FlatIP is an exact in-memory inner-product index. Search multiplies the
// query block with the stored block in one GEMM call.
//
// It is safe for concurrent use.
type FlatIP struct {
	mu   sync.RWMutex
	dim  int
	vecs Matrix
	ids  []int64
}

var _ Index = (*FlatIP)(nil)

// NewFlatIP creates an empty index for vectors of length dim.
func NewFlatIP(dim int) *FlatIP {
	return &FlatIP{dim: dim, vecs: Matrix{dim: dim}}
}

// NewFlatIPFactory returns an IndexFactory producing FlatIP indexes.
func NewFlatIPFactory() IndexFactory {
	return func(_ context.Context, dim int) (Index, error) {
		if dim <= 0 {
			return nil, fmt.Errorf("%w: index dimension %d", ErrDimension, dim)
		}
		return NewFlatIP(dim), nil
	}
}

func (f *FlatIP) AddWithIDs(_ context.Context, vectors Matrix, ids []int64) error {
	if vectors.Dim() != f.dim {
		return fmt.Errorf("%w: index has %d, vectors have %d", ErrDimension, f.dim, vectors.Dim())
	}
	if vectors.Rows() != len(ids) {
		return fmt.Errorf("vector: %d vectors for %d ids", vectors.Rows(), len(ids))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs.data = append(f.vecs.data, vectors.data...)
	f.ids = append(f.ids, ids...)
	return nil
}

func (f *FlatIP) Search(_ context.Context, queries Matrix, k int) ([][]Neighbor, error) {
	if queries.Empty() {
		return nil, nil
	}
	if queries.Dim() != f.dim {
		return nil, fmt.Errorf("%w: index has %d, queries have %d", ErrDimension, f.dim, queries.Dim())
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.vecs.Rows()
	out := make([][]Neighbor, queries.Rows())
	if n == 0 || k <= 0 {
		return out, nil
	}

	// scores[q][j] = <query q, vector j>
	scores := blas32.General{Rows: queries.Rows(), Cols: n, Stride: n, Data: make([]float32, queries.Rows()*n)}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, queries.general(), f.vecs.general(), 0, scores)

	k = min(k, n)
	for q := range out {
		row := scores.Data[q*n : (q+1)*n]
		out[q] = topK(row, f.ids, k)
	}
	return out, nil
}

func (f *FlatIP) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.vecs.Rows()
}

func (f *FlatIP) Close() error { return nil }

// topK selects the k best scores with a single pass over the row. Ties keep
// insertion order.
func topK(scores []float32, ids []int64, k int) []Neighbor {
	out := make([]Neighbor, 0, k)
	for j, s := range scores {
		if len(out) == k && s <= out[k-1].Score {
			continue
		}
		pos := len(out)
		for pos > 0 && s > out[pos-1].Score {
			pos--
		}
		if len(out) < k {
			out = append(out, Neighbor{})
		}
		copy(out[pos+1:], out[pos:len(out)-1])
		out[pos] = Neighbor{ID: ids[j], Score: s}
	}
	return out
}
