// Package vector holds the dense float32 matrices produced by embedding
// providers and the similarity indexes searched over them.
package vector

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

var (
	// ErrDimension is returned when vectors of different lengths meet.
	ErrDimension = errors.New("vector: dimension mismatch")
	// ErrEmpty is returned when a matrix would have no rows or no columns.
	ErrEmpty = errors.New("vector: empty matrix")
)

// Matrix is a dense row-major float32 matrix, one embedding per row. The zero
// value is an empty matrix.
type Matrix struct {
	dim  int
	data []float32
}

// NewMatrix copies rows into a matrix. All rows must have the same non-zero
// length.
func NewMatrix(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Matrix{}, ErrEmpty
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return Matrix{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrDimension, i, len(r), dim)
		}
		data = append(data, r...)
	}
	return Matrix{dim: dim, data: data}, nil
}

// Rows returns the number of vectors.
func (m Matrix) Rows() int {
	if m.dim == 0 {
		return 0
	}
	return len(m.data) / m.dim
}

// Dim returns the vector length.
func (m Matrix) Dim() int { return m.dim }

// Empty reports whether the matrix has no rows.
func (m Matrix) Empty() bool { return m.Rows() == 0 }

// Row returns row i. The slice aliases the matrix storage.
func (m Matrix) Row(i int) []float32 {
	return m.data[i*m.dim : (i+1)*m.dim : (i+1)*m.dim]
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	data := make([]float32, len(m.data))
	copy(data, m.data)
	return Matrix{dim: m.dim, data: data}
}

// Equal reports whether both matrices hold bit-identical values.
func (m Matrix) Equal(o Matrix) bool {
	if m.dim != o.dim || len(m.data) != len(o.data) {
		return false
	}
	for i := range m.data {
		if math.Float32bits(m.data[i]) != math.Float32bits(o.data[i]) {
			return false
		}
	}
	return true
}

// Concat stacks matrices vertically. Empty operands are skipped.
func Concat(ms ...Matrix) (Matrix, error) {
	var out Matrix
	for _, m := range ms {
		if m.Empty() {
			continue
		}
		if out.dim == 0 {
			out.dim = m.dim
		} else if m.dim != out.dim {
			return Matrix{}, fmt.Errorf("%w: concat %d with %d", ErrDimension, out.dim, m.dim)
		}
		out.data = append(out.data, m.data...)
	}
	return out, nil
}

// DeleteRows returns a new matrix without the given row indexes, keeping the
// order of the remaining rows. Out of range indexes are ignored.
func (m Matrix) DeleteRows(idx []int) Matrix {
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}
	out := Matrix{dim: m.dim, data: make([]float32, 0, len(m.data))}
	for i := 0; i < m.Rows(); i++ {
		if _, ok := drop[i]; ok {
			continue
		}
		out.data = append(out.data, m.Row(i)...)
	}
	return out
}

// NormalizeL2 scales every row to unit Euclidean length in place. Zero rows
// are left untouched.
func (m Matrix) NormalizeL2() {
	for i := 0; i < m.Rows(); i++ {
		v := rowVector(m.Row(i))
		n := blas32.Nrm2(v)
		if n == 0 {
			continue
		}
		blas32.Scal(1/n, v)
	}
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	return blas32.Dot(rowVector(a), rowVector(b)), nil
}

func rowVector(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Data: v, Inc: 1}
}

func (m Matrix) general() blas32.General {
	return blas32.General{Rows: m.Rows(), Cols: m.dim, Stride: m.dim, Data: m.data}
}
