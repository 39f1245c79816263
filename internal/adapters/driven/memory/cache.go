package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

// EmbeddingCache is a process-local content hash to vector map
type EmbeddingCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewEmbeddingCache creates an empty cache
func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{vectors: make(map[string][]float32)}
}

func (c *EmbeddingCache) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[hash]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), v...), true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, hash string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[hash] = append([]float32(nil), vector...)
	return nil
}

func (c *EmbeddingCache) SetIfAbsent(ctx context.Context, hash string, vector []float32) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vectors[hash]; ok {
		return false, nil
	}
	c.vectors[hash] = append([]float32(nil), vector...)
	return true, nil
}

// Len returns the number of cached vectors
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

func (c *EmbeddingCache) Ping(ctx context.Context) error { return nil }

func (c *EmbeddingCache) Close() error { return nil }
