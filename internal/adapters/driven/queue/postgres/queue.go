package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Queue implements TaskQueue
var _ driven.TaskQueue = (*Queue)(nil)

const (
	// DefaultLeaseTimeout is how long a processing task may go unacknowledged before it is redelivered
	DefaultLeaseTimeout = 5 * time.Minute
	// DefaultPollInterval is the sleep between empty polls while waiting for work
	DefaultPollInterval = 250 * time.Millisecond
)

const taskColumns = `id, queue, type, payload, status, priority, attempts, max_attempts, error, created_at, updated_at, started_at, completed_at, scheduled_for`

// Config configures a Postgres queue
type Config struct {
	Queue        string
	LeaseTimeout time.Duration
	PollInterval time.Duration
}

// Queue implements TaskQueue on the ingest_tasks table using FOR UPDATE SKIP LOCKED.
// Processing tasks whose lease ran out are handed out again, which gives the
// same at-least-once delivery as the stream backends.
type Queue struct {
	db    *sql.DB
	name  string
	lease time.Duration
	poll  time.Duration
}

// NewQueue creates a PostgreSQL-backed task queue.
// Assumes the ingest_tasks table has been created via migrations.
func NewQueue(db *sql.DB, cfg Config) (*Queue, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if cfg.Queue == "" {
		return nil, errors.New("queue name is required")
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Queue{db: db, name: cfg.Queue, lease: cfg.LeaseTimeout, poll: cfg.PollInterval}, nil
}

// enqueueSQL inserts a task, or revives a settled task with the same id.
// Pending and processing tasks are left untouched.
const enqueueSQL = `
	INSERT INTO ingest_tasks (
		id, queue, type, payload, status, priority,
		attempts, max_attempts, error, created_at, updated_at, scheduled_for
	) VALUES ($1, $2, $3, $4, 'pending', $5, 0, $6, '', $7, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		payload = EXCLUDED.payload,
		status = 'pending',
		attempts = 0,
		error = '',
		updated_at = EXCLUDED.updated_at,
		started_at = NULL,
		completed_at = NULL,
		scheduled_for = EXCLUDED.scheduled_for
	WHERE ingest_tasks.status IN ('completed', 'failed')
`

// Enqueue adds a task to the queue
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	return q.insert(ctx, q.db, task)
}

// EnqueueBatch adds multiple tasks atomically
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := q.insert(ctx, tx, task); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *Queue) insert(ctx context.Context, db execer, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultTaskMaxAttempts
	}
	_, err = db.ExecContext(ctx, enqueueSQL,
		task.ID,
		q.name,
		string(task.Type),
		payload,
		task.Priority,
		maxAttempts,
		time.Now(),
		task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// dequeueSQL leases the next ready task in one statement. A task is ready when
// it is pending and due, or processing with an expired lease.
const dequeueSQL = `
	UPDATE ingest_tasks
	SET status = 'processing', attempts = attempts + 1, started_at = $1, updated_at = $1
	WHERE id = (
		SELECT id FROM ingest_tasks
		WHERE queue = $2
		  AND ((status = 'pending' AND scheduled_for <= $1)
		    OR (status = 'processing' AND started_at < $3))
		ORDER BY priority DESC, scheduled_for ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + taskColumns

// DequeueWithTimeout leases the next ready task, polling until timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, err := q.dequeue(ctx)
		if err != nil || task != nil {
			return task, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := q.poll
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(wait):
		}
	}
}

func (q *Queue) dequeue(ctx context.Context) (*domain.Task, error) {
	now := time.Now()
	row := q.db.QueryRowContext(ctx, dequeueSQL, now, q.name, now.Add(-q.lease))
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	return task, nil
}

// Ack marks a task as completed
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	now := time.Now()
	result, err := q.db.ExecContext(ctx, `
		UPDATE ingest_tasks
		SET status = 'completed', completed_at = $1, updated_at = $1, error = ''
		WHERE id = $2
	`, now, taskID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return nil
}

// Nack schedules a redelivery with backoff, or fails the task when its attempts are exhausted
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE ingest_tasks
		SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
		WHERE id = $5
	`, string(task.Status), reason, task.UpdatedAt, task.ScheduledFor, taskID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM ingest_tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return task, err
}

// PurgeTasks removes old completed/failed tasks of this queue
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM ingest_tasks
		WHERE queue = $1 AND status IN ('completed', 'failed') AND updated_at < $2
	`, q.name, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	rows, err := q.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM ingest_tasks WHERE queue = $1 GROUP BY status`, q.name)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch domain.TaskStatus(status) {
		case domain.TaskStatusPending:
			stats.PendingCount = count
		case domain.TaskStatusProcessing:
			stats.ProcessingCount = count
		case domain.TaskStatusCompleted:
			stats.CompletedCount = count
		case domain.TaskStatusFailed:
			stats.FailedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	var age sql.NullInt64
	err = q.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::bigint
		FROM ingest_tasks
		WHERE queue = $1 AND status = 'pending'
	`, q.name).Scan(&age)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query oldest age: %w", err)
	}
	if age.Valid {
		stats.OldestPendingAge = age.Int64
	}
	return stats, nil
}

// Ping checks database connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the connection pool is managed by the caller
func (q *Queue) Close() error {
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var task domain.Task
	var typ, status string
	var payload []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Queue,
		&typ,
		&payload,
		&status,
		&task.Priority,
		&task.Attempts,
		&task.MaxAttempts,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
		&task.ScheduledFor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Type = domain.TaskType(typ)
	task.Status = domain.TaskStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}
