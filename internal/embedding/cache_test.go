package embedding

import (
	"context"
	"testing"
)

func TestCachingEmbedderHitsOnRepeat(t *testing.T) {
	u := &fakeEmbed{dim: 2}
	c := WithCache(u)
	ce, ok := c.(*CachingEmbedder)
	if !ok {
		t.Fatalf("expected caching wrapper, got %T", c)
	}
	if _, err := c.Embeddings(context.Background(), "m", []string{"x", "y"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.Embeddings(context.Background(), "m", []string{"x", "y"}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	hits, misses := ce.Stats()
	if hits != 2 || misses != 2 {
		t.Fatalf("expected 2 hits 2 misses, got %d/%d", hits, misses)
	}
	if u.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", u.calls)
	}
}

func TestCachingEmbedderPartialMiss(t *testing.T) {
	u := &fakeEmbed{dim: 2}
	c := WithCache(u)
	if _, err := c.Embeddings(context.Background(), "m", []string{"x"}); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	out, err := c.Embeddings(context.Background(), "m", []string{"x", "z"})
	if err != nil {
		t.Fatalf("mixed call: %v", err)
	}
	if len(out) != 2 || out[0] == nil || out[1] == nil {
		t.Fatalf("expected both vectors filled, got %v", out)
	}
}

func TestCacheDisableEnv(t *testing.T) {
	t.Setenv("DINEREC_EMBED_CACHE_DISABLE", "1")
	u := &fakeEmbed{dim: 2}
	if c := WithCache(u); c != u {
		t.Fatalf("expected passthrough when disabled")
	}
}
