package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// TaskQueue delivers workflow and activity tasks to workers.
// Implementations: Redis streams, Postgres (SKIP LOCKED), NSQ and in-memory.
// Delivery is at-least-once: a dequeued task that is neither acked nor nacked
// becomes deliverable again once its lease expires.
type TaskQueue interface {
	// Enqueue adds a task to the queue for processing.
	// The task is not delivered before its ScheduledFor time.
	// Enqueueing a task id that is already pending or processing is a no-op;
	// a completed or failed task with the same id is revived.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch adds multiple tasks to the queue.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// DequeueWithTimeout retrieves the next ready task, waiting up to timeout.
	// Returns nil, nil if timeout is reached with no tasks available.
	// The returned task is leased to the caller until Ack, Nack or lease expiry.
	DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.Task, error)

	// Ack acknowledges successful completion of a task.
	Ack(ctx context.Context, taskID string) error

	// Nack indicates task processing failed and should be redelivered with backoff.
	// If max attempts are exceeded, the task is moved to failed state.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask retrieves a task by ID (for status checking).
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// PurgeTasks removes completed/failed tasks older than the given age.
	PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// QueueStats contains queue statistics
type QueueStats struct {
	// PendingCount is the number of tasks waiting to be processed (including delayed)
	PendingCount int64 `json:"pending_count"`

	// ProcessingCount is the number of tasks currently leased to workers
	ProcessingCount int64 `json:"processing_count"`

	// CompletedCount is the number of successfully completed tasks
	CompletedCount int64 `json:"completed_count"`

	// FailedCount is the number of tasks that failed after all redeliveries
	FailedCount int64 `json:"failed_count"`

	// OldestPendingAge is the age of the oldest pending task in seconds
	OldestPendingAge int64 `json:"oldest_pending_age"`
}
