package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestTaskQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	require.NoError(t, q.Enqueue(ctx, domain.NewTask("t1", domain.TaskTypeWorkflow, "ingest", nil)))

	task, err := q.DequeueWithTimeout(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, q.Ack(ctx, "t1"))
	stored, err := q.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
}

func TestTaskQueue_DequeueTimeout(t *testing.T) {
	q := NewTaskQueue(time.Minute)

	start := time.Now()
	task, err := q.DequeueWithTimeout(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTaskQueue_DuplicateEnqueueCollapses(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	task := domain.NewTask("dup", domain.TaskTypeActivity, "ingest", nil)
	require.NoError(t, q.Enqueue(ctx, task))
	require.NoError(t, q.Enqueue(ctx, task))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PendingCount)

	// processing duplicates are ignored as well
	_, err = q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task))
	next, err := q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTaskQueue_CompletedTaskIsRevived(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	task := domain.NewTask("revive", domain.TaskTypeActivity, "ingest", nil)
	require.NoError(t, q.Enqueue(ctx, task))
	got, _ := q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NotNil(t, got)
	require.NoError(t, q.Ack(ctx, got.ID))

	require.NoError(t, q.Enqueue(ctx, task))
	again, err := q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "revive", again.ID)
}

func TestTaskQueue_DelayedTask(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	task := domain.NewTask("later", domain.TaskTypeWorkflow, "ingest", nil)
	task.ScheduledFor = time.Now().Add(40 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, task))

	none, err := q.DequeueWithTimeout(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, none)

	got, err := q.DequeueWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "later", got.ID)
}

func TestTaskQueue_LeaseExpiryRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(20 * time.Millisecond)

	require.NoError(t, q.Enqueue(ctx, domain.NewTask("lease", domain.TaskTypeActivity, "ingest", nil)))
	first, err := q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)

	// never acked: the lease expires and another worker gets it
	second, err := q.DequeueWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "lease", second.ID)
	assert.Equal(t, 2, second.Attempts)
}

func TestTaskQueue_NackRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	task := domain.NewTask("nack", domain.TaskTypeActivity, "ingest", nil)
	task.MaxAttempts = 1
	require.NoError(t, q.Enqueue(ctx, task))
	_, _ = q.DequeueWithTimeout(ctx, 10*time.Millisecond)

	require.NoError(t, q.Nack(ctx, "nack", "boom"))
	stored, err := q.GetTask(ctx, "nack")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "boom", stored.Error)
}

func TestTaskQueue_NackSchedulesRedelivery(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	require.NoError(t, q.Enqueue(ctx, domain.NewTask("again", domain.TaskTypeActivity, "ingest", nil)))
	_, _ = q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, q.Nack(ctx, "again", "transient"))

	stored, err := q.GetTask(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.True(t, stored.ScheduledFor.After(time.Now()))
}

func TestTaskQueue_PurgeAndUnknown(t *testing.T) {
	ctx := context.Background()
	q := NewTaskQueue(time.Minute)

	require.NoError(t, q.Enqueue(ctx, domain.NewTask("p", domain.TaskTypeWorkflow, "ingest", nil)))
	_, _ = q.DequeueWithTimeout(ctx, 10*time.Millisecond)
	require.NoError(t, q.Ack(ctx, "p"))

	n, err := q.PurgeTasks(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.GetTask(ctx, "p")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, q.Ack(ctx, "missing"), domain.ErrNotFound)
}

func TestTaskQueue_ContextCancel(t *testing.T) {
	q := NewTaskQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.DequeueWithTimeout(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
