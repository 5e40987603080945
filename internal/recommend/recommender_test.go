package recommend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dinerec/internal/embedding"
	"dinerec/internal/log"
	"dinerec/internal/models"
	"dinerec/internal/vectorindex"
)

func testCatalog() []models.Restaurant {
	return []models.Restaurant{
		{ID: "0", Name: "Saffron House", City: "Delhi", Cuisine: "North Indian", Rating: 4.4, HasRating: true, TextBlob: "saffron house north indian curry"},
		{ID: "1", Name: "Pasta Lane", City: "Delhi", Cuisine: "Italian", Rating: 4.0, HasRating: true, TextBlob: "pasta lane italian pizza"},
		{ID: "2", Name: "Tandoor Point", City: "Delhi", Cuisine: "North Indian", Rating: 3.8, HasRating: true, TextBlob: "tandoor point north indian grill"},
		{ID: "3", Name: "Sakura", City: "Makati City", Cuisine: "Japanese", Rating: 4.6, HasRating: true, TextBlob: "sakura japanese sushi"},
	}
}

func testVectors() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
		{0, 0, 1},
	}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	items := testCatalog()
	vecs := testVectors()
	ids := []string{"0", "1", "2", "3"}
	st := &embedding.Store{IDs: ids, Vectors: vecs, Dim: 3, Model: "test"}
	ix := vectorindex.Build(vecs, ids, log.New())
	if ix == nil {
		t.Fatalf("index build failed")
	}
	return New(items, st, ix, log.New())
}

func TestRecommendFiltersAndRanks(t *testing.T) {
	e := testEngine(t)
	recs, err := e.Recommend("Delhi", "North Indian", 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(recs))
	}
	for _, r := range recs {
		if r.City != "Delhi" || r.Cuisine != "North Indian" {
			t.Fatalf("filter leaked: %+v", r)
		}
		if r.Summary == "" {
			t.Fatalf("summary missing for %s", r.Name)
		}
	}
	if recs[0].Score < recs[1].Score {
		t.Fatalf("results not ordered by score: %v", recs)
	}
}

func TestRecommendEmptyFilterIsNotAnError(t *testing.T) {
	e := testEngine(t)
	recs, err := e.Recommend("Atlantis", "", 5)
	if err != nil {
		t.Fatalf("empty match must not error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no results, got %d", len(recs))
	}
}

func TestRecommendSingleMatch(t *testing.T) {
	e := testEngine(t)
	for _, k := range []int{1, 5, 100} {
		recs, err := e.Recommend("Makati", "Japanese", k)
		if err != nil {
			t.Fatalf("Recommend k=%d: %v", k, err)
		}
		if len(recs) != 1 || recs[0].Name != "Sakura" {
			t.Fatalf("k=%d: expected only Sakura, got %v", k, recs)
		}
		if recs[0].Score < 0.999 {
			t.Fatalf("self-centroid similarity should be ~1, got %f", recs[0].Score)
		}
	}
}

func TestRecommendCaseInsensitive(t *testing.T) {
	e := testEngine(t)
	recs, err := e.Recommend("delhi", "italian", 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "Pasta Lane" {
		t.Fatalf("expected Pasta Lane, got %v", recs)
	}
}

func TestRecommendUnavailableBackend(t *testing.T) {
	e := New(testCatalog(), nil, nil, log.New())
	if _, err := e.Recommend("Delhi", "", 5); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// an empty match short-circuits before the backend is consulted
	recs, err := e.Recommend("Atlantis", "", 5)
	if err != nil || len(recs) != 0 {
		t.Fatalf("empty match should bypass backend: %v %v", recs, err)
	}
}

func TestRecommendDefaultK(t *testing.T) {
	e := testEngine(t)
	recs, err := e.Recommend("Delhi", "", 0)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected all 3 Delhi items under default k, got %d", len(recs))
	}
}

type fakeEmbed struct {
	calls int
}

func (f *fakeEmbed) Embeddings(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, 3)
		for j, r := range in {
			v[j%3] += float32(r % 7)
		}
		out[i] = v
	}
	return out, nil
}

type failEmbed struct{}

func (failEmbed) Embeddings(context.Context, string, []string) ([][]float32, error) {
	return nil, fmt.Errorf("upstream down")
}

func TestBootstrapBuildsAndReuses(t *testing.T) {
	dir := t.TempDir()
	items := testCatalog()
	fe := &fakeEmbed{}
	e, err := Bootstrap(context.Background(), items, fe, dir, log.New())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if fe.calls == 0 {
		t.Fatalf("expected embedder to be called on first boot")
	}
	if e.Strategy() == "" {
		t.Fatalf("expected an index strategy")
	}
	calls := fe.calls

	// second boot over unchanged items must come from disk
	e2, err := Bootstrap(context.Background(), items, fe, dir, log.New())
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if fe.calls != calls {
		t.Fatalf("expected cache hit, embedder called %d more times", fe.calls-calls)
	}
	if e2.Strategy() != e.Strategy() {
		t.Fatalf("strategy changed across reload: %s vs %s", e.Strategy(), e2.Strategy())
	}
}

func TestBootstrapCacheSurvivesEmbedderOutage(t *testing.T) {
	dir := t.TempDir()
	items := testCatalog()
	if _, err := Bootstrap(context.Background(), items, &fakeEmbed{}, dir, log.New()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	e, err := Bootstrap(context.Background(), items, failEmbed{}, dir, log.New())
	if err != nil {
		t.Fatalf("cached boot should not need the embedder: %v", err)
	}
	recs, err := e.Recommend("Delhi", "", 2)
	if err != nil || len(recs) != 2 {
		t.Fatalf("Recommend from cache: %v %v", recs, err)
	}
}

func TestBootstrapStaleRebuildFailure(t *testing.T) {
	dir := t.TempDir()
	items := testCatalog()
	if _, err := Bootstrap(context.Background(), items, &fakeEmbed{}, dir, log.New()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	changed := testCatalog()
	changed[0].TextBlob = "renamed and rewritten"
	var genErr *embedding.GenerationError
	_, err := Bootstrap(context.Background(), changed, failEmbed{}, dir, log.New())
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError on stale rebuild, got %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	e := testEngine(t)
	cases := []QueryCase{
		{City: "Makati", Cuisine: "Japanese", Truth: []string{"3"}},
		{City: "Delhi", Cuisine: "Italian", Truth: []string{"1"}},
		{City: "Atlantis", Truth: []string{"0"}},
	}
	m := e.Evaluate(cases)
	if m.Queries != 3 {
		t.Fatalf("queries = %d", m.Queries)
	}
	want := 2.0 / 3.0
	if m.HitAt5 < want-1e-9 || m.HitAt5 > want+1e-9 {
		t.Fatalf("hit@5 = %f, want %f", m.HitAt5, want)
	}
	if m.MRR < want-1e-9 || m.MRR > want+1e-9 {
		t.Fatalf("mrr = %f, want %f", m.MRR, want)
	}
}
