package driving

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// SubmitRequest asks for a document to be ingested
type SubmitRequest struct {
	SourceURI string `json:"source_uri"`
	// DocumentID defaults to an id derived from SourceURI
	DocumentID string `json:"document_id,omitempty"`
	// ContentHash is computed by fetching the source when empty
	ContentHash string            `json:"content_hash,omitempty"`
	MimeType    string            `json:"mime_type,omitempty"`
	Collection  string            `json:"collection,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IngestionService is the external entry point of the ingestion pipeline
type IngestionService interface {
	// Submit starts an ingestion workflow.
	// Returns *domain.AlreadyRunningError when the same document content is already being ingested.
	Submit(ctx context.Context, req SubmitRequest) (*domain.WorkflowExecution, error)

	// Status returns the state and chunk progress of a workflow
	Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error)

	// Cancel requests cooperative cancellation of a workflow
	Cancel(ctx context.Context, workflowID, reason string) error

	// History returns the latest run's event history
	History(ctx context.Context, workflowID string) ([]*domain.Event, error)

	// ListActive returns the status of every workflow that has not settled
	ListActive(ctx context.Context) ([]*domain.WorkflowStatus, error)
}
