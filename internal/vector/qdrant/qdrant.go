// Package qdrant implements vector.Index on a Qdrant collection, for left
// sets too large to search in process.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

const (
	upsertBatch    = 256
	searchParallel = 8
)

// Backend owns the gRPC connection and hands out indexes backed by one
// collection. Rounds run one after another, so every new index drops and
// recreates the collection.
type Backend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// Dial connects to the Qdrant gRPC endpoint at host:port.
func Dial(host string, port int, collection string) (*Backend, error) {
	if collection == "" {
		collection = "skillmatch"
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return newBackend(conn, collection), nil
}

func newBackend(conn *grpc.ClientConn, collection string) *Backend {
	return &Backend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
}

// Factory returns a vector.IndexFactory creating indexes on this backend.
func (b *Backend) Factory() vector.IndexFactory {
	return b.NewIndex
}

// NewIndex recreates the collection with dot-product distance for vectors
// of length dim.
func (b *Backend) NewIndex(ctx context.Context, dim int) (vector.Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: index dimension %d", vector.ErrDimension, dim)
	}
	// Missing collection is fine here; Create reports real failures.
	_, _ = b.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: b.collection})

	_, err := b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dim), Distance: pb.Distance_Dot},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant create collection %s: %w", b.collection, err)
	}
	return &Index{backend: b, dim: dim}, nil
}

// Close releases the connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

// Index is a vector.Index stored in the backend collection.
type Index struct {
	backend *Backend
	dim     int
	n       int
}

var _ vector.Index = (*Index)(nil)

func (ix *Index) AddWithIDs(ctx context.Context, vectors vector.Matrix, ids []int64) error {
	if vectors.Dim() != ix.dim {
		return fmt.Errorf("%w: index has %d, vectors have %d", vector.ErrDimension, ix.dim, vectors.Dim())
	}
	if vectors.Rows() != len(ids) {
		return fmt.Errorf("qdrant: %d vectors for %d ids", vectors.Rows(), len(ids))
	}

	wait := true
	for start := 0; start < len(ids); start += upsertBatch {
		end := min(start+upsertBatch, len(ids))
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			if ids[i] < 0 {
				return fmt.Errorf("qdrant: negative point id %d", ids[i])
			}
			points = append(points, &pb.PointStruct{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(ids[i])}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors.Row(i)}}},
			})
		}
		_, err := ix.backend.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: ix.backend.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
	}
	ix.n += len(ids)
	return nil
}

func (ix *Index) Search(ctx context.Context, queries vector.Matrix, k int) ([][]vector.Neighbor, error) {
	if queries.Empty() {
		return nil, nil
	}
	if queries.Dim() != ix.dim {
		return nil, fmt.Errorf("%w: index has %d, queries have %d", vector.ErrDimension, ix.dim, queries.Dim())
	}

	out := make([][]vector.Neighbor, queries.Rows())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(searchParallel)
	for q := range out {
		g.Go(func() error {
			resp, err := ix.backend.points.Search(ctx, &pb.SearchPoints{
				CollectionName: ix.backend.collection,
				Vector:         queries.Row(q),
				Limit:          uint64(k),
			})
			if err != nil {
				return fmt.Errorf("qdrant search row %d: %w", q, err)
			}
			hits := make([]vector.Neighbor, len(resp.GetResult()))
			for i, pt := range resp.GetResult() {
				hits[i] = vector.Neighbor{ID: int64(pt.GetId().GetNum()), Score: pt.GetScore()}
			}
			out[q] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ix *Index) Len() int { return ix.n }

// Close leaves the collection in place for inspection; the next NewIndex
// drops it.
func (ix *Index) Close() error { return nil }
