package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Config holds engine dependencies
type Config struct {
	Store       driven.EventStore
	Queue       driven.TaskQueue
	Definitions []Definition
	Logger      *slog.Logger

	// ConflictRetries bounds how often an update is retried after losing an append race
	ConflictRetries uint64

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Engine runs event-sourced workflows. It holds no workflow state of its own:
// every operation loads the history, replays it, decides and appends.
type Engine struct {
	store           driven.EventStore
	queue           driven.TaskQueue
	definitions     map[string]Definition
	logger          *slog.Logger
	conflictRetries uint64
	now             func() time.Time
}

// New creates a new engine
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	defs := make(map[string]Definition, len(cfg.Definitions))
	for _, d := range cfg.Definitions {
		defs[d.Name()] = d
	}
	return &Engine{
		store:           cfg.Store,
		queue:           cfg.Queue,
		definitions:     defs,
		logger:          cfg.Logger.With("component", "engine"),
		conflictRetries: cfg.ConflictRetries,
		now:             cfg.Now,
	}
}

// StartRequest starts a workflow run
type StartRequest struct {
	WorkflowType string
	WorkflowID   string
	Input        json.RawMessage
	Options      domain.WorkflowOptions
}

// Invocation is an activity attempt handed to a worker after BeginActivity
type Invocation struct {
	WorkflowID   string
	RunID        string
	ActivityID   string
	ActivityType domain.ActivityType
	Attempt      int
	Input        json.RawMessage
	Timeout      time.Duration
}

// Start begins a new run. Fails with *domain.AlreadyRunningError if the
// workflow id has an active run. A terminal workflow id starts a fresh run.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*domain.WorkflowExecution, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("%w: workflow id is required", domain.ErrInvalidInput)
	}
	def, ok := e.definitions[req.WorkflowType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWorkflowType, req.WorkflowType)
	}

	s, err := e.update(ctx, req.WorkflowID, func(s *State, now time.Time) error {
		if s.Started() && !s.IsTerminal() {
			return &domain.AlreadyRunningError{WorkflowID: s.WorkflowID, RunID: s.RunID}
		}
		s.begin(now, req.WorkflowID, uuid.NewString(), req.WorkflowType, req.Input, req.Options)
		decide(def, s, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("workflow started",
		"workflow_id", s.WorkflowID,
		"run_id", s.RunID,
		"workflow_type", s.WorkflowType,
	)
	return s.Execution(), nil
}

// Advance replays a workflow and appends any decisions that are due
func (e *Engine) Advance(ctx context.Context, workflowID string) error {
	_, err := e.update(ctx, workflowID, func(s *State, now time.Time) error {
		def, err := e.definition(s)
		if err != nil {
			return err
		}
		decide(def, s, now)
		return nil
	})
	return err
}

// BeginActivity records that a worker started an activity attempt.
// Returns domain.ErrStaleTask when the attempt is superseded, settled or its
// run has closed, and for attempts not yet started once cancel was requested.
// A redelivered Started attempt is allowed to run again.
func (e *Engine) BeginActivity(ctx context.Context, workflowID, runID, activityID string, attempt int, worker string) (*Invocation, error) {
	var inv *Invocation
	_, err := e.update(ctx, workflowID, func(s *State, now time.Time) error {
		a, err := runnable(s, runID, activityID, attempt)
		if err != nil {
			return err
		}
		// a Started attempt is the in-flight try of a crashed worker: it may
		// finish even after a cancel, otherwise the run could never settle
		if s.CancelRequested && a.State != domain.ActivityStateStarted {
			return fmt.Errorf("%w: workflow cancel requested", domain.ErrStaleTask)
		}
		s.record(now, &domain.Event{
			Type:            domain.EventActivityStarted,
			ActivityStarted: &domain.ActivityStartedAttrs{ActivityID: activityID, Attempt: attempt, Worker: worker},
		})
		inv = &Invocation{
			WorkflowID:   s.WorkflowID,
			RunID:        s.RunID,
			ActivityID:   a.ID,
			ActivityType: a.Type,
			Attempt:      a.Attempt,
			Input:        a.Input,
			Timeout:      s.Options.StartToCloseTimeout,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CompleteActivity records an activity result and advances the workflow.
// Reporting an attempt that already settled returns domain.ErrStaleTask and
// changes nothing, so duplicate deliveries are absorbed.
func (e *Engine) CompleteActivity(ctx context.Context, workflowID, runID, activityID string, attempt int, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal activity result: %w", err)
	}
	_, err = e.update(ctx, workflowID, func(s *State, now time.Time) error {
		if _, err := runnable(s, runID, activityID, attempt); err != nil {
			return err
		}
		def, err := e.definition(s)
		if err != nil {
			return err
		}
		s.record(now, &domain.Event{
			Type:              domain.EventActivityCompleted,
			ActivityCompleted: &domain.ActivityCompletedAttrs{ActivityID: activityID, Attempt: attempt, Result: raw},
		})
		decide(def, s, now)
		return nil
	})
	return err
}

// FailActivity records a failed attempt and lets the retry policy decide
// between another attempt and abandonment.
func (e *Engine) FailActivity(ctx context.Context, workflowID, runID, activityID string, attempt int, cause error) error {
	ae := domain.ClassifyError(cause)
	if ae == nil {
		ae = domain.Errorf(domain.ErrorKindInternal, "activity failed without an error")
	}
	_, err := e.update(ctx, workflowID, func(s *State, now time.Time) error {
		if _, err := runnable(s, runID, activityID, attempt); err != nil {
			return err
		}
		def, err := e.definition(s)
		if err != nil {
			return err
		}
		s.record(now, &domain.Event{
			Type: domain.EventActivityFailed,
			ActivityFailed: &domain.ActivityFailedAttrs{
				ActivityID: activityID,
				Attempt:    attempt,
				Failure:    domain.FailureInfo{Kind: ae.Kind, Message: ae.Message},
				Retryable:  ae.Retryable,
			},
		})
		decide(def, s, now)
		return nil
	})
	if err == nil {
		e.logger.Warn("activity attempt failed",
			"workflow_id", workflowID,
			"activity_id", activityID,
			"attempt", attempt,
			"kind", ae.Kind,
			"error", ae.Message,
		)
	}
	return err
}

// FireTimer records a fired timer of a run and advances it.
// Timers of closed or superseded runs are ignored.
func (e *Engine) FireTimer(ctx context.Context, workflowID, runID, timer string) error {
	_, err := e.update(ctx, workflowID, func(s *State, now time.Time) error {
		if !s.Started() || s.RunID != runID || s.IsTerminal() {
			return nil
		}
		def, err := e.definition(s)
		if err != nil {
			return err
		}
		s.record(now, &domain.Event{
			Type:       domain.EventTimerFired,
			TimerFired: &domain.TimerFiredAttrs{Timer: timer},
		})
		decide(def, s, now)
		return nil
	})
	return err
}

// Cancel requests cooperative cancellation: nothing new is dispatched,
// running attempts finish their current try, then the run settles Cancelled.
func (e *Engine) Cancel(ctx context.Context, workflowID, reason string) error {
	_, err := e.update(ctx, workflowID, func(s *State, now time.Time) error {
		if !s.Started() {
			return fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
		}
		if s.IsTerminal() {
			return fmt.Errorf("workflow %s: %w", workflowID, domain.ErrWorkflowClosed)
		}
		if s.CancelRequested {
			return nil
		}
		def, err := e.definition(s)
		if err != nil {
			return err
		}
		s.record(now, &domain.Event{
			Type:            domain.EventCancelRequested,
			CancelRequested: &domain.CancelRequestedAttrs{Reason: reason},
		})
		decide(def, s, now)
		return nil
	})
	if err == nil {
		e.logger.Info("workflow cancel requested", "workflow_id", workflowID, "reason", reason)
	}
	return err
}

// Status returns the current view of the latest run of a workflow
func (e *Engine) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	s, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !s.Started() {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}

	status := &domain.WorkflowStatus{
		WorkflowExecution: *s.Execution(),
		CancelRequested:   s.CancelRequested,
		Failures:          []domain.ChunkFailure{},
	}
	for _, a := range s.Activities() {
		status.Activities = append(status.Activities, domain.ActivityAttempt{
			ActivityID:   a.ID,
			ActivityType: a.Type,
			Group:        a.Group,
			State:        a.State,
			Attempt:      a.Attempt,
			ScheduledAt:  a.ScheduledAt,
			StartedAt:    a.StartedAt,
			ClosedAt:     a.ClosedAt,
			LastFailure:  a.LastFailure,
		})
	}
	if def, ok := e.definitions[s.WorkflowType]; ok {
		def.Progress(s, status)
	}
	if s.Terminal != nil {
		status.Error = s.Terminal.Error
		status.Result = s.Terminal.Result
		if len(s.Terminal.Failures) > 0 {
			status.Failures = s.Terminal.Failures
		}
	}
	return status, nil
}

// History returns the ordered events of the latest run
func (e *Engine) History(ctx context.Context, workflowID string) ([]*domain.Event, error) {
	s, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !s.Started() {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	return s.Events(), nil
}

// Active returns the ids of workflows whose latest run is still open
func (e *Engine) Active(ctx context.Context) ([]string, error) {
	return e.store.ListActive(ctx)
}

// Recover re-drives every active workflow after a restart: it re-enqueues the
// tasks of activities that have not settled, re-arms the execution timer and
// enqueues an advance task for the run. Enqueues use deterministic task ids, so recovering a
// healthy workflow is a no-op downstream. Returns the number of workflows visited.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	ids, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active workflows: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		if err := e.recoverOne(ctx, id); err != nil {
			e.logger.Error("failed to recover workflow", "workflow_id", id, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (e *Engine) recoverOne(ctx context.Context, workflowID string) error {
	s, err := e.load(ctx, workflowID)
	if err != nil {
		return err
	}
	if !s.Started() || s.IsTerminal() {
		return nil
	}

	tasks := []*domain.Task{
		domain.NewWorkflowTask(s.Options.Queue, s.WorkflowType, s.WorkflowID, s.RunID, domain.WorkflowTaskRecover),
	}
	if t := timerTask(s); t != nil {
		tasks = append(tasks, t)
	}
	for _, a := range s.Activities() {
		if a.State == domain.ActivityStateScheduled || a.State == domain.ActivityStateRetrying || a.State == domain.ActivityStateStarted {
			tasks = append(tasks, domain.NewActivityTask(s.Options.Queue, s.WorkflowID, s.RunID, &domain.ActivityScheduledAttrs{
				ActivityID:   a.ID,
				ActivityType: a.Type,
				Attempt:      a.Attempt,
				NotBefore:    a.NotBefore,
			}))
		}
	}
	if err := e.queue.EnqueueBatch(ctx, tasks); err != nil {
		return fmt.Errorf("re-enqueue tasks: %w", err)
	}
	e.logger.Debug("workflow recovered", "workflow_id", workflowID, "run_id", s.RunID, "tasks", len(tasks))
	return nil
}

// update is the single write path: load, replay, mutate, append with
// optimistic concurrency, then dispatch tasks for what was appended.
// A lost append race replays and retries fn from scratch.
func (e *Engine) update(ctx context.Context, workflowID string, fn func(s *State, now time.Time) error) (*State, error) {
	var committed *State
	b := retry.WithCappedDuration(200*time.Millisecond, retry.NewExponential(5*time.Millisecond))

	err := retry.Do(ctx, retry.WithMaxRetries(e.conflictRetries, b), func(ctx context.Context) error {
		s, err := e.load(ctx, workflowID)
		if err != nil {
			return err
		}
		expected := s.Version
		if err := fn(s, e.now()); err != nil {
			return err
		}
		if len(s.uncommitted) > 0 {
			if err := e.store.Append(ctx, workflowID, expected, s.uncommitted); err != nil {
				if errors.Is(err, domain.ErrVersionConflict) {
					e.logger.Debug("history append conflict, retrying", "workflow_id", workflowID, "version", expected)
					return retry.RetryableError(err)
				}
				return fmt.Errorf("append events: %w", err)
			}
		}
		committed = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, committed)
	return committed, nil
}

// dispatch enqueues tasks for newly appended events. A failed enqueue is
// logged only: the history is already durable and Recover re-enqueues.
func (e *Engine) dispatch(ctx context.Context, s *State) {
	var tasks []*domain.Task
	for _, ev := range s.uncommitted {
		switch ev.Type {
		case domain.EventWorkflowStarted:
			if t := timerTask(s); t != nil {
				tasks = append(tasks, t)
			}
		case domain.EventActivityScheduled:
			tasks = append(tasks, domain.NewActivityTask(s.Options.Queue, s.WorkflowID, s.RunID, ev.ActivityScheduled))
		case domain.EventWorkflowTerminal:
			e.logger.Info("workflow closed",
				"workflow_id", s.WorkflowID,
				"run_id", s.RunID,
				"state", ev.WorkflowTerminal.State,
			)
		}
	}
	s.uncommitted = nil
	if len(tasks) == 0 {
		return
	}
	if err := e.queue.EnqueueBatch(ctx, tasks); err != nil {
		e.logger.Error("failed to enqueue workflow tasks",
			"workflow_id", s.WorkflowID,
			"run_id", s.RunID,
			"tasks", len(tasks),
			"error", err,
		)
	}
}

func (e *Engine) load(ctx context.Context, workflowID string) (*State, error) {
	events, err := e.store.Load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return Replay(events), nil
}

func (e *Engine) definition(s *State) (Definition, error) {
	def, ok := e.definitions[s.WorkflowType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWorkflowType, s.WorkflowType)
	}
	return def, nil
}

// begin records the start of a new run on a fresh or closed history
func (s *State) begin(now time.Time, workflowID, runID, workflowType string, input json.RawMessage, opts domain.WorkflowOptions) {
	version := s.Version
	*s = State{Version: version, activities: make(map[string]*Activity)}
	s.WorkflowID = workflowID
	s.RunID = runID
	s.record(now, &domain.Event{
		Type: domain.EventWorkflowStarted,
		WorkflowStarted: &domain.WorkflowStartedAttrs{
			WorkflowType: workflowType,
			Input:        input,
			Options:      opts,
		},
	})
}

// runnable returns the activity if attempt is its live attempt in the given run
func runnable(s *State, runID, activityID string, attempt int) (*Activity, error) {
	if !s.Started() || s.RunID != runID {
		return nil, fmt.Errorf("%w: run %s is not the current run", domain.ErrStaleTask, runID)
	}
	if s.IsTerminal() {
		return nil, fmt.Errorf("%w: workflow is %s", domain.ErrStaleTask, s.Status)
	}
	a := s.Activity(activityID)
	if a == nil {
		return nil, fmt.Errorf("%w: activity %s was never scheduled", domain.ErrStaleTask, activityID)
	}
	if a.Attempt != attempt {
		return nil, fmt.Errorf("%w: activity %s attempt %d superseded by %d", domain.ErrStaleTask, activityID, attempt, a.Attempt)
	}
	switch a.State {
	case domain.ActivityStateScheduled, domain.ActivityStateRetrying, domain.ActivityStateStarted:
		return a, nil
	default:
		return nil, fmt.Errorf("%w: activity %s is %s", domain.ErrStaleTask, activityID, a.State)
	}
}

func timerTask(s *State) *domain.Task {
	if s.Options.ExecutionTimeout <= 0 {
		return nil
	}
	return domain.NewTimerTask(s.Options.Queue, s.WorkflowType, s.WorkflowID, s.RunID,
		domain.TimerExecutionTimeout, s.StartedAt.Add(s.Options.ExecutionTimeout))
}
