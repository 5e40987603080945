package embedding

import (
	"context"
	"os"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"dinerec/internal/llm"
)

const defaultCacheSize = 512

// CachingEmbedder memoizes vectors per (model, input) in a bounded LRU.
// Disable with DINEREC_EMBED_CACHE_DISABLE=1; size via DINEREC_EMBED_CACHE_SIZE.
type CachingEmbedder struct {
	u     llm.Embedder
	cache *lru.Cache[string, []float32]

	mu     sync.Mutex
	hits   int
	misses int
}

// WithCache wraps u in an LRU cache. Returns u unchanged when caching is
// disabled or the cache cannot be constructed.
func WithCache(u llm.Embedder) llm.Embedder {
	if u == nil || os.Getenv("DINEREC_EMBED_CACHE_DISABLE") == "1" {
		return u
	}
	size := defaultCacheSize
	if v := os.Getenv("DINEREC_EMBED_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return u
	}
	return &CachingEmbedder{u: u, cache: c}
}

func (c *CachingEmbedder) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missIdx []int
	for i, s := range inputs {
		if v, ok := c.cache.Get(model + "|" + s); ok {
			out[i] = v
			c.count(true)
		} else {
			missIdx = append(missIdx, i)
		}
	}
	if len(missIdx) == 0 {
		return out, nil
	}
	req := make([]string, len(missIdx))
	for j, i := range missIdx {
		req[j] = inputs[i]
	}
	vecs, err := c.u.Embeddings(ctx, model, req)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		if j >= len(vecs) {
			break
		}
		out[i] = vecs[j]
		c.cache.Add(model+"|"+inputs[i], vecs[j])
		c.count(false)
	}
	return out, nil
}

// Stats returns cache hit and miss counts.
func (c *CachingEmbedder) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *CachingEmbedder) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}
