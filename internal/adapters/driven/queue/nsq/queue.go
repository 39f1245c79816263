package nsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// DefaultLeaseTimeout is the nsqd message timeout; unfinished messages are redelivered after it
const DefaultLeaseTimeout = 5 * time.Minute

// Config configures an NSQ queue
type Config struct {
	// NSQDAddress is the nsqd TCP address tasks are published to
	NSQDAddress string
	// LookupdAddresses are nsqlookupd HTTP addresses; when empty the consumer connects to NSQDAddress
	LookupdAddresses []string
	// Queue is the task queue name, used as the topic
	Queue string
	// Channel defaults to "workers"
	Channel      string
	LeaseTimeout time.Duration
	MaxInFlight  int
	Logger       *slog.Logger
}

type publisher interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
	Ping() error
	Stop()
}

// Queue implements TaskQueue on an NSQ topic. The consumer hands messages to
// DequeueWithTimeout through a channel; Ack finishes and Nack requeues them.
// NSQ has no id index, so duplicate enqueues are delivered twice and
// absorbed by the engine as stale tasks.
type Queue struct {
	name     string
	producer publisher
	consumer *nsq.Consumer
	logger   *slog.Logger

	deliveries chan *nsq.Message
	done       chan struct{}
	closeOnce  sync.Once

	mu       sync.Mutex
	inflight map[string]*nsq.Message

	completed atomic.Int64
	failed    atomic.Int64
}

// NewQueue connects a producer and a consumer for the queue's topic.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Queue == "" {
		return nil, errors.New("queue name is required")
	}
	if cfg.NSQDAddress == "" {
		return nil, errors.New("nsqd address is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = "workers"
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MsgTimeout = cfg.LeaseTimeout
	nsqCfg.MaxInFlight = cfg.MaxInFlight
	nsqCfg.MaxAttempts = domain.DefaultTaskMaxAttempts

	producer, err := nsq.NewProducer(cfg.NSQDAddress, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	producer.SetLogger(logAdapter{cfg.Logger}, nsq.LogLevelWarning)

	q := newQueue(cfg.Queue, producer, cfg.Logger)

	consumer, err := nsq.NewConsumer(cfg.Queue, cfg.Channel, nsqCfg)
	if err != nil {
		producer.Stop()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	consumer.SetLogger(logAdapter{cfg.Logger}, nsq.LogLevelWarning)
	consumer.AddHandler(q)

	if len(cfg.LookupdAddresses) > 0 {
		err = consumer.ConnectToNSQLookupds(cfg.LookupdAddresses)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQDAddress)
	}
	if err != nil {
		consumer.Stop()
		producer.Stop()
		return nil, fmt.Errorf("connect consumer: %w", err)
	}
	q.consumer = consumer
	return q, nil
}

func newQueue(name string, producer publisher, logger *slog.Logger) *Queue {
	return &Queue{
		name:       name,
		producer:   producer,
		logger:     logger,
		deliveries: make(chan *nsq.Message),
		done:       make(chan struct{}),
		inflight:   make(map[string]*nsq.Message),
	}
}

// HandleMessage receives a message from the consumer and blocks until a
// dequeuer takes it. Undecodable messages are dropped.
func (q *Queue) HandleMessage(m *nsq.Message) error {
	var task domain.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		q.logger.Warn("dropping undecodable task message", "queue", q.name, "error", err)
		return nil
	}
	m.DisableAutoResponse()
	select {
	case q.deliveries <- m:
	case <-q.done:
		m.RequeueWithoutBackoff(0)
	}
	return nil
}

// Enqueue publishes the task, deferring delivery until ScheduledFor.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	task.Queue = q.name
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	if delay := time.Until(task.ScheduledFor); delay > 0 {
		err = q.producer.DeferredPublish(q.name, delay, body)
	} else {
		err = q.producer.Publish(q.name, body)
	}
	if err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}

// EnqueueBatch publishes tasks in order
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

// DequeueWithTimeout waits up to timeout for the consumer to deliver a message.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	var m *nsq.Message
	if timeout <= 0 {
		select {
		case m = <-q.deliveries:
		default:
			return nil, nil
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case m = <-q.deliveries:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		case <-q.done:
			return nil, nil
		}
	}

	var task domain.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		m.Finish()
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	task.Attempts = int(m.Attempts) - 1
	task.MarkProcessing()

	q.mu.Lock()
	q.inflight[task.ID] = m
	q.mu.Unlock()
	return &task, nil
}

func (q *Queue) take(taskID string) (*nsq.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inflight[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	delete(q.inflight, taskID)
	return m, nil
}

// Ack finishes the message
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	m, err := q.take(taskID)
	if err != nil {
		return err
	}
	m.Finish()
	q.completed.Add(1)
	return nil
}

// Nack requeues the message with the redelivery backoff, or finishes it once
// the delivery attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	m, err := q.take(taskID)
	if err != nil {
		return err
	}
	attempts := int(m.Attempts)
	if attempts >= domain.DefaultTaskMaxAttempts {
		q.logger.Warn("task exhausted its deliveries", "task_id", taskID, "reason", reason)
		m.Finish()
		q.failed.Add(1)
		return nil
	}
	m.RequeueWithoutBackoff(domain.RedeliveryBackoff(attempts))
	return nil
}

// GetTask returns a task this process currently holds, or nil.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	q.mu.Lock()
	m, ok := q.inflight[taskID]
	q.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var task domain.Task
	if err := json.Unmarshal(m.Body, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	task.Status = domain.TaskStatusProcessing
	task.Attempts = int(m.Attempts)
	return &task, nil
}

// PurgeTasks is a no-op; nsqd keeps no settled messages
func (q *Queue) PurgeTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

// Stats reports what this process observed. NSQ depth lives in nsqd.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	q.mu.Lock()
	processing := len(q.inflight)
	q.mu.Unlock()
	return &driven.QueueStats{
		ProcessingCount: int64(processing),
		CompletedCount:  q.completed.Load(),
		FailedCount:     q.failed.Load(),
	}, nil
}

// Ping checks the producer connection
func (q *Queue) Ping(ctx context.Context) error {
	return q.producer.Ping()
}

// Close stops the consumer, requeues undelivered messages and stops the producer.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		if q.consumer != nil {
			q.consumer.Stop()
			<-q.consumer.StopChan
		}
		q.producer.Stop()
	})
	return nil
}

// logAdapter routes go-nsq log lines into slog
type logAdapter struct {
	logger *slog.Logger
}

func (l logAdapter) Output(_ int, s string) error {
	l.logger.Warn(s, "component", "nsq")
	return nil
}
