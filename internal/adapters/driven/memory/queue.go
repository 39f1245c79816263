package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TaskQueue = (*TaskQueue)(nil)

const defaultLeaseTimeout = 5 * time.Minute

// TaskQueue is an in-process task queue with the same delivery contract as
// the durable backends: delayed visibility, leases and at-least-once redelivery.
type TaskQueue struct {
	mu           sync.Mutex
	tasks        map[string]*domain.Task
	leases       map[string]time.Time
	leaseTimeout time.Duration
	notify       chan struct{}
	closed       bool
}

// NewTaskQueue creates an in-memory queue. A zero lease timeout uses 5 minutes.
func NewTaskQueue(leaseTimeout time.Duration) *TaskQueue {
	if leaseTimeout <= 0 {
		leaseTimeout = defaultLeaseTimeout
	}
	return &TaskQueue{
		tasks:        make(map[string]*domain.Task),
		leases:       make(map[string]time.Time),
		leaseTimeout: leaseTimeout,
		notify:       make(chan struct{}, 1),
	}
}

// Enqueue adds a task; pending or processing duplicates are ignored
func (q *TaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	q.put(task)
	q.signal()
	return nil
}

// EnqueueBatch adds multiple tasks
func (q *TaskQueue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	for _, t := range tasks {
		q.put(t)
	}
	q.signal()
	return nil
}

func (q *TaskQueue) put(task *domain.Task) {
	if existing, ok := q.tasks[task.ID]; ok {
		if existing.Status == domain.TaskStatusPending || existing.Status == domain.TaskStatusProcessing {
			return
		}
	}
	cp := *task
	cp.Status = domain.TaskStatusPending
	cp.Attempts = 0
	cp.Error = ""
	q.tasks[task.ID] = &cp
}

func (q *TaskQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DequeueWithTimeout leases the next ready task, waiting up to timeout
func (q *TaskQueue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, wait := q.tryDequeue()
		if task != nil {
			return task, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryDequeue returns a leased task, or how long until the next one may be ready
func (q *TaskQueue) tryDequeue() (*domain.Task, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *domain.Task
	var wait time.Duration
	for id, t := range q.tasks {
		switch t.Status {
		case domain.TaskStatusProcessing:
			// Reclaim tasks whose lease expired (worker crashed)
			if expiry := q.leases[id]; now.After(expiry) {
				t.Status = domain.TaskStatusPending
			} else {
				if d := expiry.Sub(now); wait == 0 || d < wait {
					wait = d
				}
				continue
			}
		case domain.TaskStatusPending:
		default:
			continue
		}
		if t.ScheduledFor.After(now) {
			if d := t.ScheduledFor.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.ScheduledFor.Before(best.ScheduledFor)) {
			best = t
		}
	}
	if best == nil {
		return nil, wait
	}
	best.MarkProcessing()
	q.leases[best.ID] = now.Add(q.leaseTimeout)
	cp := *best
	return &cp, 0
}

// Ack marks a task completed
func (q *TaskQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	t.MarkCompleted()
	delete(q.leases, taskID)
	return nil
}

// Nack schedules a redelivery with backoff, or fails the task after max attempts
func (q *TaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	delete(q.leases, taskID)
	if t.CanRetry() {
		t.Retry(reason)
		q.signal()
	} else {
		t.MarkFailed(reason)
	}
	return nil
}

// GetTask returns a copy of a task
func (q *TaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// PurgeTasks removes completed and failed tasks older than olderThan
func (q *TaskQueue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, t := range q.tasks {
		if (t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed) && t.UpdatedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n, nil
}

// Stats returns queue statistics
func (q *TaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := &driven.QueueStats{}
	now := time.Now()
	for _, t := range q.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
			if age := int64(now.Sub(t.CreatedAt).Seconds()); age > stats.OldestPendingAge {
				stats.OldestPendingAge = age
			}
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

// Ping always succeeds
func (q *TaskQueue) Ping(ctx context.Context) error {
	return nil
}

// Close stops accepting tasks
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
