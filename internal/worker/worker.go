package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
)

// Worker pulls tasks of one queue and executes them on a bounded pool:
// workflow tasks advance the engine, activity tasks run a registered handler
// and report the outcome back to the engine.
type Worker struct {
	queue     string
	taskQueue driven.TaskQueue
	engine    *engine.Engine
	registry  *Registry
	logger    *slog.Logger
	identity  string

	// Configuration
	concurrency     int
	pollers         int
	dequeueTimeout  time.Duration
	recoverInterval time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	pool    *ants.Pool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	Queue     string
	TaskQueue driven.TaskQueue
	Engine    *engine.Engine
	Registry  *Registry
	Logger    *slog.Logger

	// Identity is recorded in ActivityStarted events, defaults to hostname:pid
	Identity string

	Concurrency    int           // Number of tasks executed at once
	Pollers        int           // Number of goroutines long-polling the queue
	DequeueTimeout time.Duration // How long one poll waits for a task

	// RecoverInterval re-drives active workflows periodically; recovery
	// always runs once at start
	RecoverInterval time.Duration
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	pollers := cfg.Pollers
	if pollers <= 0 {
		pollers = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}

	identity := cfg.Identity
	if identity == "" {
		host, _ := os.Hostname()
		identity = fmt.Sprintf("%s:%d", host, os.Getpid())
	}

	return &Worker{
		queue:           cfg.Queue,
		taskQueue:       cfg.TaskQueue,
		engine:          cfg.Engine,
		registry:        cfg.Registry,
		logger:          logger.With("component", "worker", "queue", cfg.Queue),
		identity:        identity,
		concurrency:     concurrency,
		pollers:         pollers,
		dequeueTimeout:  dequeueTimeout,
		recoverInterval: cfg.RecoverInterval,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	pool, err := ants.NewPool(w.concurrency, ants.WithPanicHandler(func(p any) {
		w.logger.Error("task panicked", "panic", p, "stack", string(debug.Stack()))
	}))
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create worker pool: %w", err)
	}
	w.pool = pool
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"pollers", w.pollers,
		"dequeue_timeout", w.dequeueTimeout,
		"identity", w.identity,
	)

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.stopCh:
		case <-runCtx.Done():
		}
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.recoverLoop(runCtx)
	}()
	for i := 0; i < w.pollers; i++ {
		wg.Add(1)
		go func(pollerID int) {
			defer wg.Done()
			w.pollLoop(runCtx, pollerID)
		}(i)
	}

	go func() {
		wg.Wait()
		// Let in-flight tasks finish before reporting done
		if err := pool.ReleaseTimeout(time.Minute); err != nil {
			w.logger.Warn("worker pool did not drain", "error", err)
		}
		cancel()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	doneCh := w.doneCh
	w.mu.RUnlock()
	if doneCh != nil {
		<-doneCh
	}
}

// pollLoop long-polls the queue and hands tasks to the pool. Submit blocks
// while the pool is full, so a poller holds at most one leased task.
func (w *Worker) pollLoop(ctx context.Context, pollerID int) {
	logger := w.logger.With("poller_id", pollerID)
	logger.Debug("poller started")

	for {
		if ctx.Err() != nil {
			logger.Debug("poller stopping")
			return
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second): // Back off on error
			}
			continue
		}
		if task == nil {
			continue
		}

		if err := w.pool.Submit(func() { w.processTask(ctx, task) }); err != nil {
			logger.Error("failed to submit task", "task_id", task.ID, "error", err)
			w.nack(context.WithoutCancel(ctx), task, err)
		}
	}
}

func (w *Worker) recoverLoop(ctx context.Context) {
	w.recoverWorkflows(ctx)
	if w.recoverInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.recoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.recoverWorkflows(ctx)
		}
	}
}

func (w *Worker) recoverWorkflows(ctx context.Context) {
	n, err := w.engine.Recover(ctx)
	if err != nil && ctx.Err() == nil {
		w.logger.Error("workflow recovery failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("recovered active workflows", "count", n)
	}
}

// ProcessNext dequeues and executes a single task on the calling goroutine.
// Returns false when no task arrived within the dequeue timeout.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.processTask(ctx, task)
	return true, nil
}

// processTask executes one task. Stale tasks are acknowledged: the engine has
// already moved past them. Other errors are infrastructure failures and the
// task is returned to the queue for redelivery.
func (w *Worker) processTask(ctx context.Context, task *domain.Task) {
	logger := w.logger.With("task_id", task.ID, "task_type", task.Type, "workflow_id", task.WorkflowID())
	logger.Debug("processing task")

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeWorkflow:
		err = w.handleWorkflowTask(ctx, task)
	case domain.TaskTypeActivity:
		err = w.handleActivityTask(ctx, task, logger)
	default:
		err = fmt.Errorf("unknown task type: %s", task.Type)
	}

	duration := time.Since(startTime)

	if err != nil && !errors.Is(err, domain.ErrStaleTask) {
		logger.Error("task failed", "duration", duration, "error", err)
		w.nack(ctx, task, err)
		return
	}
	if err != nil {
		logger.Debug("stale task dropped", "reason", err)
	} else {
		logger.Debug("task completed", "duration", duration)
	}

	if ackErr := w.taskQueue.Ack(context.WithoutCancel(ctx), task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) nack(ctx context.Context, task *domain.Task, cause error) {
	if ctx.Err() != nil {
		// Shutting down: the lease expires and the task is redelivered
		return
	}
	if err := w.taskQueue.Nack(ctx, task.ID, cause.Error()); err != nil {
		w.logger.Error("failed to nack task", "task_id", task.ID, "nack_error", err)
	}
}

// handleWorkflowTask fires a timer or advances the workflow
func (w *Worker) handleWorkflowTask(ctx context.Context, task *domain.Task) error {
	workflowID := task.WorkflowID()
	if workflowID == "" {
		return fmt.Errorf("workflow_id not found in task payload")
	}
	if wt := task.WorkflowType(); wt != "" && !w.registry.ServesWorkflow(w.queue, wt) {
		return fmt.Errorf("%w: %s on queue %s", domain.ErrUnknownWorkflowType, wt, w.queue)
	}
	if timer := task.Timer(); timer != "" {
		return w.engine.FireTimer(ctx, workflowID, task.RunID(), timer)
	}
	w.logger.Debug("advancing workflow", "workflow_id", workflowID, "reason", task.Reason())
	return w.engine.Advance(ctx, workflowID)
}

// handleActivityTask runs one activity attempt under its start-to-close timeout
func (w *Worker) handleActivityTask(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	fn, ok := w.registry.Activity(w.queue, task.ActivityType())
	if !ok {
		return fmt.Errorf("%w: %s on queue %s", domain.ErrUnknownActivityType, task.ActivityType(), w.queue)
	}

	inv, err := w.engine.BeginActivity(ctx, task.WorkflowID(), task.RunID(), task.ActivityID(), task.Attempt(), w.identity)
	if err != nil {
		return err
	}

	actCtx, cancel := ctx, context.CancelFunc(func() {})
	if inv.Timeout > 0 {
		actCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	result, runErr := run(actCtx, fn, inv.Input)
	timedOut := errors.Is(actCtx.Err(), context.DeadlineExceeded)
	cancel()

	if runErr != nil {
		if ctx.Err() != nil {
			// Worker shutdown, not an activity failure
			return ctx.Err()
		}
		if timedOut {
			runErr = domain.Errorf(domain.ErrorKindTimeout, "activity exceeded start-to-close timeout of %s: %v", inv.Timeout, runErr)
		}
		logger.Debug("activity attempt failed", "activity_id", inv.ActivityID, "attempt", inv.Attempt, "error", runErr)
		return w.engine.FailActivity(ctx, inv.WorkflowID, inv.RunID, inv.ActivityID, inv.Attempt, runErr)
	}
	return w.engine.CompleteActivity(ctx, inv.WorkflowID, inv.RunID, inv.ActivityID, inv.Attempt, result)
}

// run executes a handler, turning a panic into an internal error
func run(ctx context.Context, fn domain.ActivityFunc, input json.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = domain.Errorf(domain.ErrorKindInternal, "activity panicked: %v", p)
		}
	}()
	return fn(ctx, input)
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
