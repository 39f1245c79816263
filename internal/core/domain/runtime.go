package domain

import "sync"

// RuntimeConfig tracks which backends were selected at startup and which
// capabilities are currently available. Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	QueueBackend  string
	CacheBackend  string
	VectorBackend string

	// Dynamic capability flags (updated when the embedding service changes)
	embeddingAvailable bool
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(queueBackend, cacheBackend, vectorBackend string) *RuntimeConfig {
	return &RuntimeConfig{
		QueueBackend:  queueBackend,
		CacheBackend:  cacheBackend,
		VectorBackend: vectorBackend,
	}
}

// EmbeddingAvailable returns whether embedding service is available
func (c *RuntimeConfig) EmbeddingAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.embeddingAvailable
}

// SetEmbeddingAvailable updates the embedding availability flag
func (c *RuntimeConfig) SetEmbeddingAvailable(available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddingAvailable = available
}

// CanIngest returns true if every stage of the ingestion pipeline can run
func (c *RuntimeConfig) CanIngest() bool {
	return c.EmbeddingAvailable()
}
