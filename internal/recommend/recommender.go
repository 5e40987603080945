package recommend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"dinerec/internal/embedding"
	"dinerec/internal/llm"
	"dinerec/internal/log"
	"dinerec/internal/models"
	"dinerec/internal/summary"
	"dinerec/internal/vectorindex"
)

// ErrUnavailable means no similarity backend exists at all. Surfaced to the
// caller: fabricated results would be worse than an explicit failure.
var ErrUnavailable = errors.New("recommendation backend unavailable")

const defaultK = 5

// Engine answers recommendation queries. Read-only after construction; a
// rebuild produces a new Engine and the owner swaps it in whole.
type Engine struct {
	items []models.Restaurant
	store *embedding.Store
	index *vectorindex.Index
	lg    *log.Logger
}

func New(items []models.Restaurant, st *embedding.Store, ix *vectorindex.Index, lg *log.Logger) *Engine {
	if lg == nil {
		lg = log.New()
	}
	return &Engine{items: items, store: st, index: ix, lg: lg}
}

// Items returns the catalog the engine was built over, in position order.
func (e *Engine) Items() []models.Restaurant { return e.items }

// Strategy reports the active index strategy, or empty when unavailable.
func (e *Engine) Strategy() string {
	if e.index == nil {
		return ""
	}
	return string(e.index.Strategy())
}

// Recommend ranks restaurants matching city and cuisine by semantic
// similarity. The query vector is the centroid of the matching items' own
// stored vectors. An empty match is a valid outcome, not an error.
func (e *Engine) Recommend(city, cuisine string, k int) ([]models.Recommendation, error) {
	if k <= 0 {
		k = defaultK
	}
	positions := e.filter(city, cuisine)
	if len(positions) == 0 {
		return []models.Recommendation{}, nil
	}
	if e.index == nil || e.store == nil {
		return nil, ErrUnavailable
	}
	mask := vectorindex.NewMask(positions)
	query := e.centroid(positions)
	if query == nil {
		return nil, ErrUnavailable
	}
	hits, err := e.index.Query(query, k, mask)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	out := make([]models.Recommendation, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(e.items) {
			continue
		}
		it := e.items[h.Position]
		out = append(out, models.Recommendation{
			ID:          it.ID,
			Name:        it.Name,
			City:        it.City,
			Cuisine:     it.Cuisine,
			Rating:      it.Rating,
			Description: it.Description,
			Score:       h.Score,
			Summary:     summary.Generate(it),
		})
	}
	return out, nil
}

// filter returns positions of items matching both the city and cuisine
// filters. City matches on case-insensitive equality or containment;
// cuisine on case-insensitive substring against the item's cuisine set.
func (e *Engine) filter(city, cuisine string) []int {
	city = strings.ToLower(strings.TrimSpace(city))
	cuisine = strings.ToLower(strings.TrimSpace(cuisine))
	var out []int
	for pos, it := range e.items {
		itCity := strings.ToLower(it.City)
		if city != "" && itCity != city && !strings.Contains(itCity, city) {
			continue
		}
		if cuisine != "" && !strings.Contains(strings.ToLower(it.Cuisine), cuisine) {
			continue
		}
		out = append(out, pos)
	}
	return out
}

// centroid averages the stored vectors at the given positions.
func (e *Engine) centroid(positions []int) []float32 {
	if e.store.Dim == 0 || len(positions) == 0 {
		return nil
	}
	acc := make([]float64, e.store.Dim)
	n := 0
	for _, pos := range positions {
		if pos < 0 || pos >= len(e.store.Vectors) {
			continue
		}
		v := e.store.Vectors[pos]
		if len(v) != e.store.Dim {
			continue
		}
		for i, f := range v {
			acc[i] += float64(f)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(acc))
	for i, f := range acc {
		out[i] = float32(f / float64(n))
	}
	return out
}

// Bootstrap builds an Engine from catalog items with load-or-rebuild
// semantics: persisted embeddings are reused when fresh, rebuilt through
// the embedder otherwise, and the index is loaded or rebuilt on top. When
// the embedder fails but a fresh persisted store exists, the store is
// served as-is.
func Bootstrap(ctx context.Context, items []models.Restaurant, emb llm.Embedder, dataDir string, lg *log.Logger) (*Engine, error) {
	if lg == nil {
		lg = log.New()
	}
	blobs := make([]string, len(items))
	ids := make([]string, len(items))
	for i, it := range items {
		blobs[i] = it.TextBlob
		ids[i] = it.ID
	}
	st, err := embedding.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if st != nil && !st.Stale(blobs) {
		lg.Info("embeddings.cache_hit", "items", len(items))
	} else {
		if st != nil {
			lg.Info("embeddings.stale", "cached", len(st.IDs), "items", len(items))
		}
		model := os.Getenv("DINEREC_EMBEDDING_MODEL")
		if model == "" {
			model = llm.DefaultEmbeddingModel
		}
		st, err = embedding.Build(ctx, emb, model, ids, blobs)
		if err != nil {
			return nil, err
		}
		if err := st.Persist(dataDir); err != nil {
			return nil, fmt.Errorf("persist embeddings: %w", err)
		}
		// stale index artifacts must not pair with fresh vectors
		ix := vectorindex.Build(st.Vectors, st.IDs, lg)
		if ix == nil {
			return New(items, st, nil, lg), nil
		}
		if err := ix.Save(dataDir); err != nil {
			return nil, fmt.Errorf("persist index: %w", err)
		}
		return New(items, st, ix, lg), nil
	}
	ix := vectorindex.Load(dataDir, st.Vectors, st.IDs, lg)
	if ix == nil {
		ix = vectorindex.Build(st.Vectors, st.IDs, lg)
		if ix == nil {
			return New(items, st, nil, lg), nil
		}
		if err := ix.Save(dataDir); err != nil {
			return nil, fmt.Errorf("persist index: %w", err)
		}
	}
	return New(items, st, ix, lg), nil
}
