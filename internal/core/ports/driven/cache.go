package driven

import "context"

// EmbeddingCache maps a content hash to a computed embedding vector.
// Entries never expire; invalidation is explicit and out of band.
type EmbeddingCache interface {
	// Get returns the vector for a hash and whether it was present.
	Get(ctx context.Context, hash string) ([]float32, bool, error)

	// Set stores a vector, replacing any existing value (last write wins).
	Set(ctx context.Context, hash string, vector []float32) error

	// SetIfAbsent stores a vector only when no value exists for the hash.
	// Returns true if the value was written.
	SetIfAbsent(ctx context.Context, hash string, vector []float32) (bool, error)

	// Ping checks if the cache backend is healthy.
	Ping(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error
}
