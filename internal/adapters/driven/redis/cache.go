package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/dedup"
)

// Verify interface compliance
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

// DefaultCachePrefix namespaces embedding keys
const DefaultCachePrefix = "ingest:embedding:"

// EmbeddingCache stores vectors as packed little-endian float32 strings.
// Keys carry no TTL; entries live until deleted out of band.
type EmbeddingCache struct {
	client redis.UniversalClient
	prefix string
}

// NewEmbeddingCache creates a Redis-backed cache. An empty prefix uses DefaultCachePrefix.
func NewEmbeddingCache(client redis.UniversalClient, prefix string) *EmbeddingCache {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return &EmbeddingCache{client: client, prefix: prefix}
}

func (c *EmbeddingCache) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding %s: %w", hash, err)
	}
	vector, err := dedup.DecodeVector(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode embedding %s: %w", hash, err)
	}
	return vector, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, hash string, vector []float32) error {
	if err := c.client.Set(ctx, c.prefix+hash, dedup.EncodeVector(vector), 0).Err(); err != nil {
		return fmt.Errorf("set embedding %s: %w", hash, err)
	}
	return nil
}

func (c *EmbeddingCache) SetIfAbsent(ctx context.Context, hash string, vector []float32) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+hash, dedup.EncodeVector(vector), 0).Result()
	if err != nil {
		return false, fmt.Errorf("set embedding %s: %w", hash, err)
	}
	return ok, nil
}

// Ping checks if the Redis backend is healthy.
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (c *EmbeddingCache) Close() error {
	return nil
}
