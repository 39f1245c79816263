package engine

import (
	"encoding/json"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Activity is the replayed state of one activity of a run
type Activity struct {
	ID          string
	Type        domain.ActivityType
	Group       int
	Input       json.RawMessage
	State       domain.ActivityState
	Attempt     int
	ScheduledAt time.Time
	NotBefore   time.Time
	StartedAt   *time.Time
	ClosedAt    *time.Time
	FailedAt    time.Time
	Result      json.RawMessage
	LastFailure *domain.FailureInfo
	retryable   bool
}

// InFlight reports whether the activity still occupies a fan-out slot
func (a *Activity) InFlight() bool {
	return !a.State.IsSettled()
}

// State is a run reconstructed from its event history.
// It is only ever built by Replay and changed by applying events.
type State struct {
	WorkflowID      string
	RunID           string
	WorkflowType    string
	Input           json.RawMessage
	Options         domain.WorkflowOptions
	Status          domain.WorkflowState
	StartedAt       time.Time
	ClosedAt        *time.Time
	CancelRequested bool
	CancelReason    string
	TimedOut        bool
	Terminal        *domain.WorkflowTerminalAttrs

	// Version is the Seq of the last event in the workflow's history (all runs)
	Version int64

	activities  map[string]*Activity
	order       []string
	events      []*domain.Event
	uncommitted []*domain.Event
}

// Replay folds the latest run of a history into State.
// Events of earlier runs only contribute to Version.
func Replay(events []*domain.Event) *State {
	s := &State{activities: make(map[string]*Activity)}
	start := -1
	for i, ev := range events {
		if ev.Type == domain.EventWorkflowStarted {
			start = i
		}
		s.Version = ev.Seq
	}
	if start < 0 {
		return s
	}
	for _, ev := range events[start:] {
		s.apply(ev)
		s.events = append(s.events, ev)
	}
	return s
}

// Started reports whether the history holds a run at all
func (s *State) Started() bool {
	return s.RunID != ""
}

// IsTerminal reports whether the run has closed
func (s *State) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Activity returns an activity by id, nil if it was never scheduled
func (s *State) Activity(id string) *Activity {
	return s.activities[id]
}

// Activities returns activities in the order they were first scheduled
func (s *State) Activities() []*Activity {
	out := make([]*Activity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.activities[id])
	}
	return out
}

// InFlight counts activities that are scheduled, running or awaiting a retry decision
func (s *State) InFlight() int {
	n := 0
	for _, a := range s.activities {
		if a.InFlight() {
			n++
		}
	}
	return n
}

// Events returns the events of the latest run, including uncommitted ones
func (s *State) Events() []*domain.Event {
	return s.events
}

// record stamps an event for this run, applies it and queues it for append
func (s *State) record(now time.Time, ev *domain.Event) {
	ev.WorkflowID = s.WorkflowID
	ev.RunID = s.RunID
	ev.Time = now
	s.Version++
	ev.Seq = s.Version
	s.apply(ev)
	s.events = append(s.events, ev)
	s.uncommitted = append(s.uncommitted, ev)
}

func (s *State) apply(ev *domain.Event) {
	switch ev.Type {
	case domain.EventWorkflowStarted:
		attrs := ev.WorkflowStarted
		s.WorkflowID = ev.WorkflowID
		s.RunID = ev.RunID
		s.WorkflowType = attrs.WorkflowType
		s.Input = attrs.Input
		s.Options = attrs.Options
		s.Status = domain.WorkflowStatePending
		s.StartedAt = ev.Time

	case domain.EventActivityScheduled:
		attrs := ev.ActivityScheduled
		a, ok := s.activities[attrs.ActivityID]
		if !ok {
			a = &Activity{
				ID:          attrs.ActivityID,
				Type:        attrs.ActivityType,
				Group:       attrs.Group,
				Input:       attrs.Input,
				ScheduledAt: ev.Time,
			}
			s.activities[a.ID] = a
			s.order = append(s.order, a.ID)
		}
		a.Attempt = attrs.Attempt
		a.NotBefore = attrs.NotBefore
		a.StartedAt = nil
		a.State = domain.ActivityStateScheduled
		if attrs.Attempt > 1 {
			a.State = domain.ActivityStateRetrying
		}
		if s.Status == domain.WorkflowStatePending {
			s.Status = domain.WorkflowStateRunning
		}

	case domain.EventActivityStarted:
		a := s.current(ev.ActivityStarted.ActivityID, ev.ActivityStarted.Attempt)
		if a == nil {
			return
		}
		t := ev.Time
		a.State = domain.ActivityStateStarted
		a.StartedAt = &t

	case domain.EventActivityCompleted:
		a := s.current(ev.ActivityCompleted.ActivityID, ev.ActivityCompleted.Attempt)
		if a == nil {
			return
		}
		t := ev.Time
		a.State = domain.ActivityStateCompleted
		a.Result = ev.ActivityCompleted.Result
		a.ClosedAt = &t

	case domain.EventActivityFailed:
		attrs := ev.ActivityFailed
		a := s.current(attrs.ActivityID, attrs.Attempt)
		if a == nil {
			return
		}
		failure := attrs.Failure
		a.State = domain.ActivityStateFailed
		a.LastFailure = &failure
		a.FailedAt = ev.Time
		a.retryable = attrs.Retryable

	case domain.EventActivityAbandoned:
		attrs := ev.ActivityAbandoned
		a, ok := s.activities[attrs.ActivityID]
		if !ok || a.State.IsSettled() {
			return
		}
		t := ev.Time
		failure := attrs.Failure
		a.State = domain.ActivityStateAbandoned
		a.LastFailure = &failure
		a.ClosedAt = &t

	case domain.EventCancelRequested:
		s.CancelRequested = true
		s.CancelReason = ev.CancelRequested.Reason

	case domain.EventTimerFired:
		if ev.TimerFired.Timer == domain.TimerExecutionTimeout {
			s.TimedOut = true
		}

	case domain.EventWorkflowTerminal:
		t := ev.Time
		s.Status = ev.WorkflowTerminal.State
		s.Terminal = ev.WorkflowTerminal
		s.ClosedAt = &t
	}
}

// current returns the activity if attempt is its live, unsettled attempt
func (s *State) current(id string, attempt int) *Activity {
	a, ok := s.activities[id]
	if !ok || a.Attempt != attempt || a.State.IsSettled() {
		return nil
	}
	return a
}

// Execution returns the externally visible identity and state of the run
func (s *State) Execution() *domain.WorkflowExecution {
	return &domain.WorkflowExecution{
		WorkflowID:   s.WorkflowID,
		RunID:        s.RunID,
		WorkflowType: s.WorkflowType,
		State:        s.Status,
		StartedAt:    s.StartedAt,
		ClosedAt:     s.ClosedAt,
	}
}
