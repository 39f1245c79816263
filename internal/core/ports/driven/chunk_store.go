package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// ChunkStore handles chunk persistence
type ChunkStore interface {
	// SaveBatch creates or updates chunks by id
	SaveBatch(ctx context.Context, chunks []*domain.DocumentChunk) error

	// Get retrieves a chunk by id
	Get(ctx context.Context, id string) (*domain.DocumentChunk, error)

	// GetByDocument retrieves all chunks for a document ordered by ordinal
	GetByDocument(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error)

	// SetEmbedding records the computed embedding of a chunk and marks it embedded
	SetEmbedding(ctx context.Context, id string, embedding []float32) error

	// Delete deletes chunks by id
	Delete(ctx context.Context, ids []string) error
}
