package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

const (
	keyPrefix   = "ingest:"
	taskGroup   = "ingest:workers"
	taskTTL     = 7 * 24 * time.Hour
	claimBatch  = 10
	fieldData   = "data"
	fieldStatus = "status"
	fieldMsg    = "msg"
)

// DefaultLeaseTimeout is how long a delivered task may stay unacknowledged
// before another consumer claims it
const DefaultLeaseTimeout = 5 * time.Minute

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements TaskQueue using Redis Streams.
// Each queue name gets its own stream and consumer group; delayed tasks wait
// in a sorted set until they are due. Task records live in hashes keyed by
// task id so enqueueing an id that is still pending is a no-op.
type Queue struct {
	client       redis.UniversalClient
	name         string
	consumerName string
	leaseTimeout time.Duration

	stream    string
	scheduled string
}

// Config configures a Redis queue
type Config struct {
	// Queue is the task queue name
	Queue string
	// ConsumerName must be unique per worker process
	ConsumerName string
	// LeaseTimeout defaults to DefaultLeaseTimeout
	LeaseTimeout time.Duration
}

// NewQueue creates a Redis-backed task queue and its consumer group.
func NewQueue(ctx context.Context, client redis.UniversalClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Queue == "" {
		return nil, errors.New("queue name is required")
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = fmt.Sprintf("worker-%d", time.Now().UnixNano())
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}

	q := &Queue{
		client:       client,
		name:         cfg.Queue,
		consumerName: cfg.ConsumerName,
		leaseTimeout: cfg.LeaseTimeout,
		stream:       keyPrefix + "tasks:" + cfg.Queue,
		scheduled:    keyPrefix + "scheduled:" + cfg.Queue,
	}

	err := client.XGroupCreateMkStream(ctx, q.stream, taskGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) taskKey(id string) string {
	return keyPrefix + "task:" + id
}

// enqueueScript writes the task record unless the id is already pending or processing
var enqueueScript = redis.NewScript(`
	local status = redis.call("hget", KEYS[1], "status")
	if status == "pending" or status == "processing" then
		return 0
	end
	redis.call("hset", KEYS[1], "data", ARGV[1], "status", "pending")
	redis.call("hdel", KEYS[1], "msg")
	redis.call("pexpire", KEYS[1], ARGV[2])
	return 1
`)

// Enqueue adds a task. Duplicate ids that are still pending or processing are ignored.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	task.Queue = q.name
	task.Status = domain.TaskStatusPending
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	written, err := enqueueScript.Run(ctx, q.client, []string{q.taskKey(task.ID)}, data, taskTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	if written == 0 {
		return nil
	}

	if task.ScheduledFor.After(time.Now()) {
		err = q.client.ZAdd(ctx, q.scheduled, redis.Z{
			Score:  float64(task.ScheduledFor.UnixMilli()),
			Member: task.ID,
		}).Err()
	} else {
		err = q.client.XAdd(ctx, q.message(task.ID)).Err()
	}
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// EnqueueBatch adds tasks one by one; each keeps its own dedup check.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := q.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) message(taskID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"task_id": taskID},
	}
}

// DequeueWithTimeout claims an abandoned task if one exists, otherwise reads
// the stream, blocking up to timeout. A non-positive timeout does not block.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	if err := q.promoteScheduled(ctx); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("promote scheduled tasks: %w", err)
	}

	// claiming is best effort; a failure here must not block fresh reads
	if task, err := q.claimAbandoned(ctx); err == nil && task != nil {
		return task, nil
	}

	block := timeout
	if block <= 0 {
		block = -1
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.lease(ctx, streams[0].Messages[0])
}

// lease loads the task behind a stream message and marks it processing.
// Messages whose task vanished or is no longer pending are dropped.
func (q *Queue) lease(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	taskID, _ := msg.Values["task_id"].(string)
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}

	task.MarkProcessing()
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	err = q.client.HSet(ctx, q.taskKey(task.ID),
		fieldData, data,
		fieldStatus, string(task.Status),
		fieldMsg, msg.ID,
	).Err()
	if err != nil {
		return nil, fmt.Errorf("lease task %s: %w", task.ID, err)
	}
	return task, nil
}

func (q *Queue) dropMessage(ctx context.Context, msgID string) {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, q.stream, taskGroup, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, _ = pipe.Exec(ctx)
}

// Ack marks a task completed and removes its stream message.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, msgID, err := q.load(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	task.MarkCompleted()
	return q.settle(ctx, task, msgID, false)
}

// Nack schedules redelivery with backoff, or fails the task once its
// delivery attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, msgID, err := q.load(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	retry := task.CanRetry()
	if retry {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	return q.settle(ctx, task, msgID, retry)
}

func (q *Queue) settle(ctx context.Context, task *domain.Task, msgID string, reschedule bool) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, q.stream, taskGroup, msgID)
		pipe.XDel(ctx, q.stream, msgID)
	}
	pipe.HSet(ctx, q.taskKey(task.ID), fieldData, data, fieldStatus, string(task.Status))
	pipe.HDel(ctx, q.taskKey(task.ID), fieldMsg)
	if reschedule {
		pipe.ZAdd(ctx, q.scheduled, redis.Z{
			Score:  float64(task.ScheduledFor.UnixMilli()),
			Member: task.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask returns a task by id, or nil when unknown.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, _, err := q.load(ctx, taskID)
	return task, err
}

func (q *Queue) load(ctx context.Context, taskID string) (*domain.Task, string, error) {
	fields, err := q.client.HMGet(ctx, q.taskKey(taskID), fieldData, fieldMsg).Result()
	if err != nil {
		return nil, "", fmt.Errorf("get task %s: %w", taskID, err)
	}
	raw, ok := fields[0].(string)
	if !ok {
		return nil, "", nil
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, "", fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	msgID, _ := fields[1].(string)
	return &task, msgID, nil
}

// PurgeTasks removes completed and failed task records older than olderThan.
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	purged := 0
	err := q.scanTasks(ctx, func(key string, task *domain.Task) error {
		if task.Queue != q.name {
			return nil
		}
		if (task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed) &&
			task.UpdatedAt.Before(cutoff) {
			if err := q.client.Del(ctx, key).Err(); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	return purged, err
}

// Stats returns queue statistics. Completed and failed counts need a key scan.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	length, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return nil, fmt.Errorf("stream length: %w", err)
	}
	pending, err := q.client.XPending(ctx, q.stream, taskGroup).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending summary: %w", err)
	}
	if pending != nil {
		stats.ProcessingCount = pending.Count
	}
	scheduled, err := q.client.ZCard(ctx, q.scheduled).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduled count: %w", err)
	}
	stats.PendingCount = length - stats.ProcessingCount + scheduled

	var oldest time.Time
	err = q.scanTasks(ctx, func(_ string, task *domain.Task) error {
		if task.Queue != q.name {
			return nil
		}
		switch task.Status {
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		case domain.TaskStatusPending:
			if oldest.IsZero() || task.CreatedAt.Before(oldest) {
				oldest = task.CreatedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = int64(time.Since(oldest).Seconds())
	}
	return stats, nil
}

func (q *Queue) scanTasks(ctx context.Context, fn func(key string, task *domain.Task) error) error {
	iter := q.client.Scan(ctx, 0, keyPrefix+"task:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := q.client.HGet(ctx, key, fieldData).Result()
		if err != nil {
			continue
		}
		var task domain.Task
		if json.Unmarshal([]byte(raw), &task) != nil {
			continue
		}
		if err := fn(key, &task); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan tasks: %w", err)
	}
	return nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client is shared.
func (q *Queue) Close() error {
	return nil
}

// promoteScheduled moves due tasks from the sorted set to the stream. Only
// the caller whose ZREM succeeds adds the message, so concurrent workers
// never promote a task twice.
func (q *Queue) promoteScheduled(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.scheduled, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		removed, err := q.client.ZRem(ctx, q.scheduled, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.XAdd(ctx, q.message(id)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimAbandoned takes over a message another consumer left unacknowledged
// for longer than the lease timeout.
func (q *Queue) claimAbandoned(ctx context.Context) (*domain.Task, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  taskGroup,
		Start:  "-",
		End:    "+",
		Count:  claimBatch,
		Idle:   q.leaseTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    taskGroup,
			Consumer: q.consumerName,
			MinIdle:  q.leaseTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}
		task, err := q.lease(ctx, claimed[0])
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
	}
	return nil, nil
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
