package qdrant

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

// fakeQdrant keeps one collection in memory and answers searches by exact
// dot product.
type fakeQdrant struct {
	mu      sync.Mutex
	dim     uint64
	points  map[uint64][]float32
	creates int
}

type fakeCollections struct {
	pb.UnimplementedCollectionsServer
	*fakeQdrant
}

type fakePoints struct {
	pb.UnimplementedPointsServer
	*fakeQdrant
}

func (f fakeCollections) Create(_ context.Context, req *pb.CreateCollection) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.dim = req.GetVectorsConfig().GetParams().GetSize()
	f.points = make(map[uint64][]float32)
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (f fakeCollections) Delete(context.Context, *pb.DeleteCollection) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (f fakePoints) Upsert(_ context.Context, req *pb.UpsertPoints) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetNum()] = p.GetVectors().GetVector().GetData()
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f fakePoints) Search(_ context.Context, req *pb.SearchPoints) (*pb.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []*pb.ScoredPoint
	for id, v := range f.points {
		var dot float32
		for i := range v {
			dot += v[i] * req.GetVector()[i]
		}
		hits = append(hits, &pb.ScoredPoint{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: id}},
			Score: dot,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > req.GetLimit() {
		hits = hits[:req.GetLimit()]
	}
	return &pb.SearchResponse{Result: hits}, nil
}

func newTestBackend(t *testing.T) (*Backend, *fakeQdrant) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	fake := &fakeQdrant{}
	srv := grpc.NewServer()
	pb.RegisterPointsServer(srv, fakePoints{fakeQdrant: fake})
	pb.RegisterCollectionsServer(srv, fakeCollections{fakeQdrant: fake})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	b := newBackend(conn, "skills")
	t.Cleanup(func() { b.Close() })
	return b, fake
}

func TestIndex_AddAndSearch(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()

	ix, err := b.Factory()(ctx, 2)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if fake.dim != 2 {
		t.Errorf("collection dim = %d", fake.dim)
	}

	left, _ := vector.NewMatrix([][]float32{{1, 0}, {0, 1}, {0.6, 0.8}})
	if err := ix.AddWithIDs(ctx, left, []int64{10, 20, 30}); err != nil {
		t.Fatalf("AddWithIDs: %v", err)
	}
	if ix.Len() != 3 {
		t.Errorf("Len = %d", ix.Len())
	}

	queries, _ := vector.NewMatrix([][]float32{{1, 0}, {0, 1}})
	res, err := ix.Search(ctx, queries, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("results = %d rows", len(res))
	}
	if res[0][0].ID != 10 || res[0][1].ID != 30 {
		t.Errorf("row 0 = %+v", res[0])
	}
	if res[1][0].ID != 20 || res[1][1].ID != 30 {
		t.Errorf("row 1 = %+v", res[1])
	}
}

func TestIndex_Validation(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	if _, err := b.NewIndex(ctx, 0); !errors.Is(err, vector.ErrDimension) {
		t.Errorf("dim 0: %v", err)
	}

	ix, err := b.NewIndex(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	m, _ := vector.NewMatrix([][]float32{{1, 0}})
	if err := ix.AddWithIDs(ctx, m, []int64{1}); !errors.Is(err, vector.ErrDimension) {
		t.Errorf("dimension mismatch: %v", err)
	}
	m3, _ := vector.NewMatrix([][]float32{{1, 0, 0}})
	if err := ix.AddWithIDs(ctx, m3, []int64{1, 2}); err == nil {
		t.Error("expected row/id count mismatch")
	}
	if err := ix.AddWithIDs(ctx, m3, []int64{-1}); err == nil {
		t.Error("expected negative id error")
	}
	if res, err := ix.Search(ctx, vector.Matrix{}, 2); err != nil || res != nil {
		t.Errorf("empty search = %v, %v", res, err)
	}
}

func TestNewIndex_RecreatesCollection(t *testing.T) {
	b, fake := newTestBackend(t)
	ctx := context.Background()
	for range 2 {
		if _, err := b.NewIndex(ctx, 4); err != nil {
			t.Fatal(err)
		}
	}
	if fake.creates != 2 {
		t.Errorf("creates = %d, want 2", fake.creates)
	}
}
