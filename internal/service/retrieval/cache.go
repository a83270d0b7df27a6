package retrieval

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// WithLRUCache wraps an embedder with an expirable LRU so repeated queries
// (refined queries tend to repeat across a session) skip the provider call.
func WithLRUCache(next embedding.Embedder, size int, ttl time.Duration, log *zap.Logger) embedding.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &cachedEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float64](size, nil, ttl),
		log:   log,
	}
}

type cachedEmbedder struct {
	next  embedding.Embedder
	cache *expirable.LRU[string, []float64]
	log   *zap.Logger
}

func (c *cachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var misses []string
	var missIdx []int

	for i, text := range texts {
		if cached, ok := c.cache.Get(text); ok {
			out[i] = cloneEmbedding(cached)
			continue
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}

	if len(misses) == 0 {
		c.log.Debug("embedding cache hit", zap.Int("texts", len(texts)))
		return out, nil
	}

	embedded, err := c.next.EmbedStrings(ctx, misses, opts...)
	if err != nil {
		return nil, err
	}

	for i, vec := range embedded {
		out[missIdx[i]] = vec
		c.cache.Add(misses[i], cloneEmbedding(vec))
	}
	return out, nil
}

func cloneEmbedding(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float64, len(values))
	copy(clone, values)
	return clone
}
