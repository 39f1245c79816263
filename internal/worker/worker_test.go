package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
)

const (
	testQueue    = "test-queue"
	echoWorkflow = "echo_workflow"
	echoActivity = domain.ActivityType("echo")
)

// echoDefinition runs a single "echo" activity and closes with its result
type echoDefinition struct{}

func (echoDefinition) Name() string { return echoWorkflow }

func (echoDefinition) Plan(s *engine.State) ([]engine.Command, error) {
	if s.Activity("echo") != nil {
		return nil, nil
	}
	return []engine.Command{{ActivityID: "echo", Type: echoActivity, Input: s.Input}}, nil
}

func (echoDefinition) Outcome(s *engine.State) *engine.Outcome {
	a := s.Activity("echo")
	if a == nil {
		return nil
	}
	switch a.State {
	case domain.ActivityStateCompleted:
		return &engine.Outcome{State: domain.WorkflowStateCompleted, Result: a.Result}
	case domain.ActivityStateAbandoned:
		return &engine.Outcome{State: domain.WorkflowStateFailed, Error: a.LastFailure}
	}
	return nil
}

func (echoDefinition) Progress(s *engine.State, status *domain.WorkflowStatus) {}

type fixture struct {
	queue    *memory.TaskQueue
	store    *memory.EventStore
	engine   *engine.Engine
	registry *Registry
	worker   *Worker
	calls    atomic.Int32
}

func newFixture(t *testing.T, handler domain.ActivityFunc) *fixture {
	t.Helper()
	f := &fixture{
		queue:    memory.NewTaskQueue(time.Minute),
		store:    memory.NewEventStore(),
		registry: NewRegistry(),
	}
	f.engine = engine.New(engine.Config{
		Store:       f.store,
		Queue:       f.queue,
		Definitions: []engine.Definition{echoDefinition{}},
	})
	handlers := map[domain.ActivityType]domain.ActivityFunc{}
	if handler != nil {
		handlers[echoActivity] = func(ctx context.Context, input json.RawMessage) (any, error) {
			f.calls.Add(1)
			return handler(ctx, input)
		}
	}
	if err := f.registry.Register(testQueue, []string{echoWorkflow}, handlers); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.worker = NewWorker(WorkerConfig{
		Queue:          testQueue,
		TaskQueue:      f.queue,
		Engine:         f.engine,
		Registry:       f.registry,
		Concurrency:    2,
		DequeueTimeout: 50 * time.Millisecond,
		Identity:       "test-worker",
	})
	return f
}

func (f *fixture) start(t *testing.T, opts domain.WorkflowOptions) string {
	t.Helper()
	opts.Queue = testQueue
	exec, err := f.engine.Start(context.Background(), engine.StartRequest{
		WorkflowType: echoWorkflow,
		WorkflowID:   "wf-1",
		Input:        json.RawMessage(`{"msg":"hello"}`),
		Options:      opts,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return exec.WorkflowID
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		ok, err := f.worker.ProcessNext(context.Background())
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if !ok {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func (f *fixture) status(t *testing.T, id string) *domain.WorkflowStatus {
	t.Helper()
	st, err := f.engine.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return st
}

func retryPolicy(attempts int) map[domain.ActivityType]domain.RetryPolicy {
	return map[domain.ActivityType]domain.RetryPolicy{
		echoActivity: {InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond, MaxAttempts: attempts},
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(WorkerConfig{TaskQueue: memory.NewTaskQueue(0)})

	if w.concurrency != 1 {
		t.Errorf("expected default concurrency 1, got %d", w.concurrency)
	}
	if w.pollers != 1 {
		t.Errorf("expected default pollers 1, got %d", w.pollers)
	}
	if w.dequeueTimeout != 5*time.Second {
		t.Errorf("expected default dequeue timeout 5s, got %s", w.dequeueTimeout)
	}
	if w.identity == "" {
		t.Error("expected a default identity")
	}
	if w.logger == nil {
		t.Error("expected default logger")
	}
}

func TestWorker_ProcessNext_CompletesWorkflow(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		return map[string]json.RawMessage{"echo": input}, nil
	})
	id := f.start(t, domain.WorkflowOptions{})
	f.drain(t)

	st := f.status(t, id)
	if st.State != domain.WorkflowStateCompleted {
		t.Fatalf("expected completed, got %s (%+v)", st.State, st.Error)
	}
	if string(st.Result) != `{"echo":{"msg":"hello"}}` {
		t.Errorf("unexpected result %s", st.Result)
	}

	history, err := f.engine.History(context.Background(), id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var worker string
	for _, ev := range history {
		if ev.Type == domain.EventActivityStarted {
			worker = ev.ActivityStarted.Worker
		}
	}
	if worker != "test-worker" {
		t.Errorf("expected worker identity in history, got %q", worker)
	}
}

func TestWorker_RetriesRetryableFailures(t *testing.T) {
	var attempts atomic.Int32
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, domain.Errorf(domain.ErrorKindFetch, "connection reset")
		}
		return "ok", nil
	})
	id := f.start(t, domain.WorkflowOptions{RetryPolicies: retryPolicy(5)})
	f.drain(t)

	st := f.status(t, id)
	if st.State != domain.WorkflowStateCompleted {
		t.Fatalf("expected completed, got %s", st.State)
	}
	if f.calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", f.calls.Load())
	}
	if st.Activities[0].Attempt != 3 {
		t.Errorf("expected attempt 3 recorded, got %d", st.Activities[0].Attempt)
	}
}

func TestWorker_TerminalFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		return nil, domain.Errorf(domain.ErrorKindNotFound, "no such object")
	})
	id := f.start(t, domain.WorkflowOptions{RetryPolicies: retryPolicy(5)})
	f.drain(t)

	st := f.status(t, id)
	if st.State != domain.WorkflowStateFailed {
		t.Fatalf("expected failed, got %s", st.State)
	}
	if st.Error == nil || st.Error.Kind != domain.ErrorKindNotFound {
		t.Errorf("expected NotFoundError, got %+v", st.Error)
	}
	if f.calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", f.calls.Load())
	}
}

func TestWorker_StartToCloseTimeout(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	id := f.start(t, domain.WorkflowOptions{StartToCloseTimeout: 20 * time.Millisecond, RetryPolicies: retryPolicy(1)})
	f.drain(t)

	st := f.status(t, id)
	if st.State != domain.WorkflowStateFailed {
		t.Fatalf("expected failed, got %s", st.State)
	}
	if st.Error == nil || st.Error.Kind != domain.ErrorKindTimeout {
		t.Errorf("expected TimeoutError, got %+v", st.Error)
	}
}

func TestWorker_PanicBecomesInternalError(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		panic("boom")
	})
	id := f.start(t, domain.WorkflowOptions{RetryPolicies: retryPolicy(1)})
	f.drain(t)

	st := f.status(t, id)
	if st.Error == nil || st.Error.Kind != domain.ErrorKindInternal {
		t.Errorf("expected InternalError, got %+v", st.Error)
	}
}

func TestWorker_ExecutionTimeoutFiresTimer(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		return nil, domain.Errorf(domain.ErrorKindFetch, "unavailable")
	})
	policies := map[domain.ActivityType]domain.RetryPolicy{
		echoActivity: {InitialInterval: time.Hour, Multiplier: 2, MaxInterval: time.Hour, MaxAttempts: 5},
	}
	id := f.start(t, domain.WorkflowOptions{ExecutionTimeout: 30 * time.Millisecond, RetryPolicies: policies})
	f.drain(t)

	st := f.status(t, id)
	if st.State != domain.WorkflowStateTimedOut {
		t.Fatalf("expected timed out, got %s", st.State)
	}
}

func TestWorker_UnknownActivityIsNacked(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t, domain.WorkflowOptions{})

	ok, err := f.worker.ProcessNext(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a task, got %v, %v", ok, err)
	}

	st := f.status(t, id)
	task, err := f.queue.GetTask(context.Background(), domain.ActivityTaskID(st.RunID, "echo", 1))
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.TaskStatusPending || task.Attempts != 1 || task.Error == "" {
		t.Errorf("expected task returned for redelivery, got %+v", task)
	}
}

func TestWorker_StaleTaskIsAcked(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		return "ok", nil
	})
	id := f.start(t, domain.WorkflowOptions{})
	if err := f.engine.Cancel(context.Background(), id, "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.drain(t)

	st := f.status(t, id)
	if st.State != domain.WorkflowStateCancelled {
		t.Fatalf("expected cancelled, got %s", st.State)
	}
	if f.calls.Load() != 0 {
		t.Error("expected the cancelled activity never to run")
	}
	task, err := f.queue.GetTask(context.Background(), domain.ActivityTaskID(st.RunID, "echo", 1))
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != domain.TaskStatusCompleted {
		t.Errorf("expected stale task acked, got %s", task.Status)
	}
}

func TestWorker_StartStop(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input json.RawMessage) (any, error) {
		return "ok", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	if err := f.worker.Start(ctx); err != nil {
		t.Errorf("second start should not error: %v", err)
	}
	if !f.worker.Health(ctx).Running {
		t.Error("expected worker to be running")
	}

	id := f.start(t, domain.WorkflowOptions{})
	deadline := time.Now().Add(2 * time.Second)
	for {
		if f.status(t, id).State == domain.WorkflowStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("workflow did not complete")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.worker.Stop()
	if f.worker.Health(ctx).Running {
		t.Error("expected worker to be stopped")
	}
	f.worker.Stop() // Should not panic
}

func TestWorker_ContextCancellation(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		f.worker.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("worker did not stop after context cancellation")
		f.worker.Stop()
	}
}

type pingFailQueue struct {
	*memory.TaskQueue
}

func (q pingFailQueue) Ping(ctx context.Context) error {
	return errors.New("connection failed")
}

func TestWorker_Health_QueueError(t *testing.T) {
	w := NewWorker(WorkerConfig{TaskQueue: pingFailQueue{memory.NewTaskQueue(0)}})

	health := w.Health(context.Background())
	if health.Running {
		t.Error("expected not running")
	}
	if health.QueueHealth {
		t.Error("expected queue to be unhealthy")
	}
	if health.Error != "connection failed" {
		t.Errorf("expected error message, got %q", health.Error)
	}
}
