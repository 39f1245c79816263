package engine

import (
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// decide appends the events that follow from the current state. It reads only
// the state (including recorded failure times) so the same history always
// produces the same decisions.
func decide(def Definition, s *State, now time.Time) {
	if !s.Started() || s.IsTerminal() {
		return
	}

	if s.TimedOut {
		s.record(now, terminalEvent(&Outcome{
			State: domain.WorkflowStateTimedOut,
			Error: &domain.FailureInfo{Kind: domain.ErrorKindTimeout, Message: "workflow execution timeout exceeded"},
		}))
		return
	}

	for _, a := range s.Activities() {
		if a.State != domain.ActivityStateFailed {
			continue
		}
		policy := s.Options.Policy(a.Type)
		if a.retryable && !s.CancelRequested && CanRetry(policy, a.Attempt) {
			s.record(now, &domain.Event{
				Type: domain.EventActivityScheduled,
				ActivityScheduled: &domain.ActivityScheduledAttrs{
					ActivityID:   a.ID,
					ActivityType: a.Type,
					Attempt:      a.Attempt + 1,
					Group:        a.Group,
					Input:        a.Input,
					NotBefore:    a.FailedAt.Add(Backoff(policy, a.Attempt)),
				},
			})
			continue
		}
		s.record(now, &domain.Event{
			Type: domain.EventActivityAbandoned,
			ActivityAbandoned: &domain.ActivityAbandonedAttrs{
				ActivityID: a.ID,
				Attempt:    a.Attempt,
				Failure:    *a.LastFailure,
			},
		})
	}

	if s.CancelRequested {
		for _, a := range s.Activities() {
			if a.State != domain.ActivityStateScheduled && a.State != domain.ActivityStateRetrying {
				continue
			}
			s.record(now, &domain.Event{
				Type: domain.EventActivityAbandoned,
				ActivityAbandoned: &domain.ActivityAbandonedAttrs{
					ActivityID: a.ID,
					Attempt:    a.Attempt,
					Failure:    domain.FailureInfo{Kind: domain.ErrorKindCancelled, Message: "workflow cancelled before the attempt started"},
				},
			})
		}
		if s.InFlight() == 0 {
			msg := "workflow cancelled"
			if s.CancelReason != "" {
				msg = "workflow cancelled: " + s.CancelReason
			}
			outcome := &Outcome{
				State: domain.WorkflowStateCancelled,
				Error: &domain.FailureInfo{Kind: domain.ErrorKindCancelled, Message: msg},
			}
			if o := def.Outcome(s); o != nil {
				outcome.Failures = o.Failures
			}
			s.record(now, terminalEvent(outcome))
		}
		return
	}

	commands, err := def.Plan(s)
	if err != nil {
		s.record(now, terminalEvent(&Outcome{
			State: domain.WorkflowStateFailed,
			Error: &domain.FailureInfo{Kind: domain.ErrorKindInternal, Message: fmt.Sprintf("plan: %v", err)},
		}))
		return
	}

	slots := -1
	if s.Options.MaxConcurrency > 0 {
		slots = s.Options.MaxConcurrency - s.InFlight()
	}
	for _, cmd := range commands {
		if slots == 0 {
			break
		}
		if s.Activity(cmd.ActivityID) != nil {
			continue
		}
		s.record(now, &domain.Event{
			Type: domain.EventActivityScheduled,
			ActivityScheduled: &domain.ActivityScheduledAttrs{
				ActivityID:   cmd.ActivityID,
				ActivityType: cmd.Type,
				Attempt:      1,
				Group:        cmd.Group,
				Input:        cmd.Input,
			},
		})
		if slots > 0 {
			slots--
		}
	}

	if s.InFlight() > 0 {
		return
	}
	if outcome := def.Outcome(s); outcome != nil {
		s.record(now, terminalEvent(outcome))
		return
	}
	s.record(now, terminalEvent(&Outcome{
		State: domain.WorkflowStateFailed,
		Error: &domain.FailureInfo{Kind: domain.ErrorKindInternal, Message: "workflow has nothing to run and no outcome"},
	}))
}

func terminalEvent(o *Outcome) *domain.Event {
	return &domain.Event{
		Type: domain.EventWorkflowTerminal,
		WorkflowTerminal: &domain.WorkflowTerminalAttrs{
			State:    o.State,
			Error:    o.Error,
			Failures: o.Failures,
			Result:   o.Result,
		},
	}
}
