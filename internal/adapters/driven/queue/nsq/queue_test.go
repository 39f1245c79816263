package nsq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

type published struct {
	topic string
	delay time.Duration
	task  domain.Task
}

type fakeProducer struct {
	mu      sync.Mutex
	msgs    []published
	pingErr error
	stopped bool
}

func (p *fakeProducer) record(topic string, delay time.Duration, body []byte) error {
	var task domain.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, delay: delay, task: task})
	return nil
}

func (p *fakeProducer) Publish(topic string, body []byte) error {
	return p.record(topic, 0, body)
}

func (p *fakeProducer) DeferredPublish(topic string, delay time.Duration, body []byte) error {
	return p.record(topic, delay, body)
}

func (p *fakeProducer) Ping() error { return p.pingErr }

func (p *fakeProducer) Stop() { p.stopped = true }

type fakeDelegate struct {
	mu       sync.Mutex
	finished int
	requeued []time.Duration
}

func (d *fakeDelegate) OnFinish(*nsq.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished++
}

func (d *fakeDelegate) OnRequeue(_ *nsq.Message, delay time.Duration, _ bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requeued = append(d.requeued, delay)
}

func (d *fakeDelegate) OnTouch(*nsq.Message) {}

func newTestQueue() (*Queue, *fakeProducer) {
	p := &fakeProducer{}
	return newQueue("ingestion", p, slog.Default()), p
}

func message(t *testing.T, task *domain.Task, attempts uint16, d *fakeDelegate) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	var id nsq.MessageID
	copy(id[:], task.ID)
	m := nsq.NewMessage(id, body)
	m.Attempts = attempts
	m.Delegate = d
	return m
}

// deliver runs HandleMessage in the background the way the consumer does
func deliver(q *Queue, m *nsq.Message) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- q.HandleMessage(m) }()
	return errc
}

func TestNewQueue_Validation(t *testing.T) {
	_, err := NewQueue(Config{NSQDAddress: "127.0.0.1:4150"})
	assert.Error(t, err)
	_, err = NewQueue(Config{Queue: "ingestion"})
	assert.Error(t, err)
}

func TestQueue_EnqueuePublishesToTopic(t *testing.T) {
	q, p := newTestQueue()
	ctx := context.Background()

	now := domain.NewTask("t1", domain.TaskTypeActivity, "", nil)
	later := domain.NewTask("t2", domain.TaskTypeWorkflow, "", nil)
	later.ScheduledFor = time.Now().Add(time.Minute)

	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{now, nil, later}))
	require.Len(t, p.msgs, 2)

	assert.Equal(t, "ingestion", p.msgs[0].topic)
	assert.Zero(t, p.msgs[0].delay)
	assert.Equal(t, "t1", p.msgs[0].task.ID)
	assert.Equal(t, "ingestion", p.msgs[0].task.Queue)

	assert.Equal(t, "t2", p.msgs[1].task.ID)
	assert.Greater(t, p.msgs[1].delay, 50*time.Second)

	assert.Error(t, q.Enqueue(ctx, nil))
}

func TestQueue_DequeueAndAck(t *testing.T) {
	q, _ := newTestQueue()
	d := &fakeDelegate{}
	task := domain.NewTask("t1", domain.TaskTypeActivity, "ingestion", map[string]string{domain.PayloadWorkflowID: "wf-1"})

	errc := deliver(q, message(t, task, 1, d))

	got, err := q.DequeueWithTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, <-errc)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, "wf-1", got.WorkflowID())

	held, err := q.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, domain.TaskStatusProcessing, held.Status)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ProcessingCount)

	require.NoError(t, q.Ack(context.Background(), "t1"))
	assert.Equal(t, 1, d.finished)
	assert.ErrorIs(t, q.Ack(context.Background(), "t1"), domain.ErrNotFound)

	stats, err = q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ProcessingCount)
	assert.Equal(t, int64(1), stats.CompletedCount)
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q, _ := newTestQueue()

	got, err := q.DequeueWithTimeout(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = q.DequeueWithTimeout(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err = q.DequeueWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_NackRequeuesWithBackoff(t *testing.T) {
	q, _ := newTestQueue()
	d := &fakeDelegate{}
	errc := deliver(q, message(t, domain.NewTask("t1", domain.TaskTypeActivity, "ingestion", nil), 2, d))

	got, err := q.DequeueWithTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.NoError(t, q.Nack(context.Background(), got.ID, "boom"))

	require.Len(t, d.requeued, 1)
	assert.Equal(t, domain.RedeliveryBackoff(2), d.requeued[0])
	assert.Zero(t, d.finished)
}

func TestQueue_NackFinishesExhaustedMessage(t *testing.T) {
	q, _ := newTestQueue()
	d := &fakeDelegate{}
	errc := deliver(q, message(t, domain.NewTask("t1", domain.TaskTypeActivity, "ingestion", nil), domain.DefaultTaskMaxAttempts, d))

	got, err := q.DequeueWithTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.NoError(t, q.Nack(context.Background(), got.ID, "boom"))

	assert.Equal(t, 1, d.finished)
	assert.Empty(t, d.requeued)
	stats, _ := q.Stats(context.Background())
	assert.Equal(t, int64(1), stats.FailedCount)
}

func TestQueue_HandleMessageDropsGarbage(t *testing.T) {
	q, _ := newTestQueue()
	m := nsq.NewMessage(nsq.MessageID{}, []byte("not json"))
	m.Delegate = &fakeDelegate{}

	// returning nil lets the consumer auto-finish it
	assert.NoError(t, q.HandleMessage(m))
}

func TestQueue_CloseRequeuesWaitingMessages(t *testing.T) {
	q, p := newTestQueue()
	d := &fakeDelegate{}
	errc := deliver(q, message(t, domain.NewTask("t1", domain.TaskTypeActivity, "ingestion", nil), 1, d))

	require.NoError(t, q.Close())
	require.NoError(t, <-errc)
	assert.Equal(t, []time.Duration{0}, d.requeued)
	assert.True(t, p.stopped)
	require.NoError(t, q.Close())
}

func TestQueue_Ping(t *testing.T) {
	q, p := newTestQueue()
	assert.NoError(t, q.Ping(context.Background()))
	p.pingErr = errors.New("nsqd down")
	assert.Error(t, q.Ping(context.Background()))

	n, err := q.PurgeTasks(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
