package driven

import (
	"context"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// EventStore persists workflow histories. It is the only durable workflow state.
type EventStore interface {
	// Append adds events to a workflow's history. expectedVersion is the Seq of
	// the last event the caller observed (0 for a new history). Appended events
	// receive consecutive sequence numbers. Returns domain.ErrVersionConflict
	// if another writer appended first; nothing is written in that case.
	Append(ctx context.Context, workflowID string, expectedVersion int64, events []*domain.Event) error

	// Load returns the full history of a workflow ordered by Seq.
	// Returns an empty slice for an unknown workflow.
	Load(ctx context.Context, workflowID string) ([]*domain.Event, error)

	// ListActive returns the ids of workflows whose latest run is not terminal.
	ListActive(ctx context.Context) ([]string, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}
