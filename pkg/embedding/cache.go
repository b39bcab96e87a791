package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"docqa-go/pkg/log"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder memoises query embeddings in an expirable LRU.
// Document embeddings always go to the provider because every index build re-embeds.
type CachedEmbedder struct {
	next  Embedder
	cache *expirable.LRU[string, []float32]
}

// WithQueryCache wraps e with an LRU cache. A non-positive size or ttl disables caching.
func WithQueryCache(e Embedder, size int, ttl time.Duration) Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &CachedEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Model implements Embedder.
func (c *CachedEmbedder) Model() string {
	return c.next.Model()
}

// EmbedDocuments implements Embedder.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedDocuments(ctx, texts)
}

// EmbedQuery implements Embedder.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.next.Model(), text)
	if cached, ok := c.cache.Get(key); ok {
		log.Debugf("[Embedding] query embedding cache hit")
		return cloneVector(cached), nil
	}
	vector, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(vector))
	return vector, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
