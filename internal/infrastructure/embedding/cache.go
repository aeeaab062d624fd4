package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/multihop-rag/internal/core/ports"
)

const DefaultCacheSize = 100

type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// CachedEmbedder memoises embeddings in a bounded most-recently-used cache
// keyed on the exact input string. Lookups promote the entry; inserts evict
// the least-recently-used one when full. No lock is held across the inner
// embedding call.
type CachedEmbedder struct {
	inner ports.Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func NewCachedEmbedder(inner ports.Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := c.cache.Get(text); ok {
		c.hits.Add(1)
		return vector, nil
	}
	c.misses.Add(1)

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, vector)
	return vector, nil
}

func (c *CachedEmbedder) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.cache.Len(),
	}
}
