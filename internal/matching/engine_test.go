package matching

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/efebarandurmaz/skillmatch/internal/source"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

func scenarioProvider() *fakeProvider {
	return &fakeProvider{name: "raw", vec: tableVec(
		map[int64][]float32{1: {1, 0, 0}, 2: {0.8, 0.6, 0}, 3: {0, 0, 1}},
		map[int64][]float32{10: {0.95, 0.3, 0}, 11: {0, 0.1, 1}, 12: {0.5, 0.5, 0.5}},
	)}
}

func TestEngine_SetLeft(t *testing.T) {
	e := NewEngine()
	if err := e.SetLeft(nil); !errors.Is(err, ErrNoItems) {
		t.Errorf("expected ErrNoItems, got %v", err)
	}
	if err := e.SetLeft(map[int64]source.Item{1: nil}); !errors.Is(err, source.ErrNilItem) {
		t.Errorf("expected ErrNilItem, got %v", err)
	}
	if err := e.SetLeft(map[int64]source.Item{5: csharp}); err == nil {
		t.Error("expected error for key mismatch")
	}

	in := skillMap(csharp, fsharp)
	if err := e.SetLeft(in); err != nil {
		t.Fatalf("SetLeft: %v", err)
	}
	delete(in, 1)
	if len(e.Left()) != 2 {
		t.Error("engine must not alias the caller's map")
	}
}

func TestEngine_SetRight(t *testing.T) {
	e := NewEngine()
	if err := e.SetRight(nil); !errors.Is(err, ErrNoItems) {
		t.Errorf("expected ErrNoItems, got %v", err)
	}
	if err := e.SetRight([]source.Item{sharp, nil}); !errors.Is(err, source.ErrNilItem) {
		t.Errorf("expected ErrNilItem, got %v", err)
	}
	if err := e.SetRight(packageList(sharp)); err != nil {
		t.Fatalf("SetRight: %v", err)
	}
	got := e.Right()
	got[0] = nil
	if e.Right()[0] == nil {
		t.Error("Right must return a copy")
	}
}

func TestEngine_EmbedAndSearch_Preconditions(t *testing.T) {
	p := scenarioProvider()
	f := &funcFilter{fn: firstAlways}
	ctx := context.Background()

	e := NewEngine()
	if _, err := e.EmbedAndSearch(ctx, p, p, f); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	_ = e.SetLeft(skillMap(csharp, fsharp))
	_ = e.SetRight(packageList(sharp))
	if _, err := e.EmbedAndSearch(ctx, p, nil, f); !errors.Is(err, ErrNoCache) {
		t.Errorf("expected ErrNoCache, got %v", err)
	}
	if _, err := e.EmbedAndSearch(ctx, nil, p, f); err == nil {
		t.Error("expected error for nil left provider")
	}
	if _, err := e.EmbedAndSearch(ctx, p, p, nil); err == nil {
		t.Error("expected error for nil filter")
	}
	if p.callCount() != 0 {
		t.Errorf("validation must happen before embedding, got %d calls", p.callCount())
	}
}

func TestEngine_SharpScenario(t *testing.T) {
	p := scenarioProvider()
	stub := &stubCompleter{answer: constAnswer("1")}
	filter := newTestFilter(t, stub, 0.5)

	e := NewEngine()
	if err := e.SetLeft(skillMap(csharp, fsharp)); err != nil {
		t.Fatal(err)
	}
	if err := e.SetRight(packageList(sharp)); err != nil {
		t.Fatal(err)
	}

	batch, err := e.EmbedAndSearch(context.Background(), p, p, filter)
	if err != nil {
		t.Fatalf("EmbedAndSearch: %v", err)
	}
	if batch.Len() != 1 {
		t.Fatalf("expected 1 match, got %d", batch.Len())
	}
	m := batch.Matches[0]
	if !source.Equal(m.Query, sharp) || !source.Equal(m.Winner, csharp) {
		t.Errorf("unexpected match %+v", m)
	}
	if e.RightLen() != 0 || len(e.Right()) != 0 {
		t.Errorf("expected empty right set, got %d", e.RightLen())
	}
	if stub.callCount() != 1 {
		t.Errorf("expected a single disambiguation call, got %d", stub.callCount())
	}
}

func TestEngine_CandidatesOrderedByScore(t *testing.T) {
	p := scenarioProvider()
	f := &funcFilter{fn: rejectAll}

	e := NewEngine()
	_ = e.SetLeft(skillMap(csharp, fsharp, source.Skill{ID: 3, Name: "SQL", Path: `\Databases\SQL`}))
	_ = e.SetRight(packageList(sharp, source.Package{ID: 11, Title: "SqlKata"}))

	if _, err := e.EmbedAndSearch(context.Background(), p, p, f); err != nil {
		t.Fatalf("EmbedAndSearch: %v", err)
	}
	cs := f.rounds[0]
	if len(cs) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cs))
	}
	if cs[0].First.Key() != 1 || cs[0].Second.Key() != 2 {
		t.Errorf("candidate 0 neighbours = %d, %d", cs[0].First.Key(), cs[0].Second.Key())
	}
	if cs[1].First.Key() != 3 {
		t.Errorf("candidate 1 first neighbour = %d, want 3", cs[1].First.Key())
	}
	for i, c := range cs {
		if c.FirstScore < c.SecondScore {
			t.Errorf("candidate %d scores out of order: %v < %v", i, c.FirstScore, c.SecondScore)
		}
	}
	if e.RightLen() != 2 {
		t.Errorf("rejections must keep right items, got %d", e.RightLen())
	}
}

func TestEngine_SingleLeftItemRepeatsNeighbour(t *testing.T) {
	p := scenarioProvider()
	f := &funcFilter{fn: rejectAll}

	e := NewEngine()
	_ = e.SetLeft(skillMap(csharp))
	_ = e.SetRight(packageList(sharp))
	if _, err := e.EmbedAndSearch(context.Background(), p, p, f); err != nil {
		t.Fatalf("EmbedAndSearch: %v", err)
	}
	c := f.rounds[0][0]
	if !source.Equal(c.First, csharp) || !source.Equal(c.Second, csharp) || c.FirstScore != c.SecondScore {
		t.Errorf("unexpected candidate %+v", c)
	}
}

func TestEngine_ReusesCachedRightEmbeddings(t *testing.T) {
	var queries []vector.Matrix
	left := scenarioProvider()
	right := scenarioProvider()
	f := &funcFilter{fn: rejectAll}

	e := NewEngine(WithIndexFactory(recordingFactory(&queries)))
	_ = e.SetLeft(skillMap(csharp, fsharp))
	_ = e.SetRight(packageList(sharp, source.Package{ID: 11, Title: "b"}))

	ctx := context.Background()
	if _, err := e.EmbedAndSearch(ctx, left, right, f); err != nil {
		t.Fatalf("round 0: %v", err)
	}
	if _, err := e.EmbedAndSearch(ctx, left, nil, f); err != nil {
		t.Fatalf("round 1: %v", err)
	}

	if right.callCount() != 1 {
		t.Errorf("right provider called %d times, want 1", right.callCount())
	}
	if left.callCount() != 2 {
		t.Errorf("left provider called %d times, want 2", left.callCount())
	}
	if len(queries) != 2 || !queries[0].Equal(queries[1]) {
		t.Fatal("reused right embeddings must be bit-identical")
	}
}

func TestEngine_PartitionShrinksRightAndCache(t *testing.T) {
	var queries []vector.Matrix
	p := scenarioProvider()
	pkgs := packageList(sharp, source.Package{ID: 11, Title: "b"}, source.Package{ID: 12, Title: "c"})
	f := &funcFilter{fn: func(i int, c Candidate) source.Item {
		if c.Query.Key() == 11 {
			return c.First
		}
		return nil
	}}

	e := NewEngine(WithIndexFactory(recordingFactory(&queries)))
	_ = e.SetLeft(skillMap(csharp, fsharp, source.Skill{ID: 3, Name: "SQL", Path: `\Databases\SQL`}))
	_ = e.SetRight(pkgs)

	ctx := context.Background()
	batch, err := e.EmbedAndSearch(ctx, p, p, f)
	if err != nil {
		t.Fatalf("round 0: %v", err)
	}
	if batch.Len() != 1 || batch.Matches[0].Query.Key() != 11 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if got := keysOf(e.Right()); !slices.Equal(got, []int64{10, 12}) {
		t.Fatalf("right keys = %v, want [10 12]", got)
	}

	if _, err := e.EmbedAndSearch(ctx, p, nil, f); err != nil {
		t.Fatalf("round 1: %v", err)
	}
	want := queries[0].DeleteRows([]int{1})
	if !queries[1].Equal(want) {
		t.Error("cache rows must follow the remaining right items")
	}
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()
	setup := func() *Engine {
		e := NewEngine()
		_ = e.SetLeft(skillMap(csharp, fsharp))
		_ = e.SetRight(packageList(sharp))
		return e
	}

	t.Run("dimension mismatch", func(t *testing.T) {
		wide := &fakeProvider{vec: func(source.Item) []float32 { return []float32{1, 0, 0, 0} }}
		_, err := setup().EmbedAndSearch(ctx, scenarioProvider(), wide, &funcFilter{fn: firstAlways})
		if !errors.Is(err, vector.ErrDimension) {
			t.Fatalf("expected ErrDimension, got %v", err)
		}
	})

	t.Run("embedding failure", func(t *testing.T) {
		broken := &fakeProvider{vec: scenarioProvider().vec, err: errors.New("embed down")}
		e := setup()
		if _, err := e.EmbedAndSearch(ctx, broken, scenarioProvider(), &funcFilter{fn: firstAlways}); err == nil {
			t.Fatal("expected error")
		}
		if e.RightLen() != 1 {
			t.Error("failed round must not drop right items")
		}
	})

	t.Run("filter failure", func(t *testing.T) {
		_, err := setup().EmbedAndSearch(ctx, scenarioProvider(), scenarioProvider(), &funcFilter{err: errors.New("boom")})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("filter slot mismatch", func(t *testing.T) {
		_, err := setup().EmbedAndSearch(ctx, scenarioProvider(), scenarioProvider(), &funcFilter{fn: firstAlways, short: true})
		if err == nil {
			t.Fatal("expected error")
		}
	})
}
