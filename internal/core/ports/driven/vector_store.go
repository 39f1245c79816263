package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// VectorStore persists chunk vectors. Upserts are idempotent by chunk id:
// writing the same chunk id again replaces the record, never duplicates it.
type VectorStore interface {
	// Upsert writes records into a collection.
	Upsert(ctx context.Context, collection string, records []*domain.VectorRecord) error

	// Get returns a record by chunk id, or domain.ErrNotFound.
	Get(ctx context.Context, collection, chunkID string) (*domain.VectorRecord, error)

	// Delete removes records by chunk id. Missing ids are ignored.
	Delete(ctx context.Context, collection string, chunkIDs []string) error

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}
