package domain

import (
	"encoding/json"
	"time"
)

// WorkflowState is the lifecycle state of a workflow execution
type WorkflowState string

const (
	WorkflowStatePending            WorkflowState = "pending"
	WorkflowStateRunning            WorkflowState = "running"
	WorkflowStateCompleted          WorkflowState = "completed"
	WorkflowStatePartiallyCompleted WorkflowState = "partially_completed"
	WorkflowStateFailed             WorkflowState = "failed"
	WorkflowStateTimedOut           WorkflowState = "timed_out"
	WorkflowStateCancelled          WorkflowState = "cancelled"
)

// IsTerminal returns true once the execution can no longer change
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case WorkflowStateCompleted, WorkflowStatePartiallyCompleted, WorkflowStateFailed,
		WorkflowStateTimedOut, WorkflowStateCancelled:
		return true
	default:
		return false
	}
}

// ActivityType names an activity handler
type ActivityType string

// ActivityState is the sub-state of one dispatched activity
type ActivityState string

const (
	ActivityStateScheduled ActivityState = "scheduled"
	ActivityStateStarted   ActivityState = "started"
	ActivityStateFailed    ActivityState = "failed"
	ActivityStateRetrying  ActivityState = "retrying"
	ActivityStateCompleted ActivityState = "completed"
	ActivityStateAbandoned ActivityState = "abandoned"
)

// IsSettled returns true when the activity will not run again
func (s ActivityState) IsSettled() bool {
	return s == ActivityStateCompleted || s == ActivityStateAbandoned
}

// RetryPolicy is an exponential backoff policy for one activity type.
// MaxAttempts counts the first attempt, so 1 means never retry.
type RetryPolicy struct {
	InitialInterval time.Duration `json:"initial_interval"`
	Multiplier      float64       `json:"multiplier"`
	MaxInterval     time.Duration `json:"max_interval"`
	MaxAttempts     int           `json:"max_attempts"`
}

// WorkflowOptions are fixed at start and recorded in history so replay
// never depends on the configuration of the worker replaying it.
type WorkflowOptions struct {
	Queue               string                       `json:"queue"`
	MaxConcurrency      int                          `json:"max_concurrency"`
	ExecutionTimeout    time.Duration                `json:"execution_timeout"`
	StartToCloseTimeout time.Duration                `json:"start_to_close_timeout"`
	RetryPolicies       map[ActivityType]RetryPolicy `json:"retry_policies,omitempty"`
}

// Policy returns the retry policy for an activity type. Unknown types get a single attempt.
func (o WorkflowOptions) Policy(t ActivityType) RetryPolicy {
	if p, ok := o.RetryPolicies[t]; ok {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		return p
	}
	return RetryPolicy{MaxAttempts: 1}
}

// WorkflowExecution identifies one run of a workflow
type WorkflowExecution struct {
	WorkflowID   string        `json:"workflow_id"`
	RunID        string        `json:"run_id"`
	WorkflowType string        `json:"workflow_type"`
	State        WorkflowState `json:"state"`
	StartedAt    time.Time     `json:"started_at"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
}

// ActivityAttempt is the externally visible record of one activity
type ActivityAttempt struct {
	ActivityID   string        `json:"activity_id"`
	ActivityType ActivityType  `json:"activity_type"`
	Group        int           `json:"group"`
	State        ActivityState `json:"state"`
	Attempt      int           `json:"attempt"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	ClosedAt     *time.Time    `json:"closed_at,omitempty"`
	LastFailure  *FailureInfo  `json:"last_failure,omitempty"`
}

// ChunkFailure is a chunk that ended abandoned in a partially completed or failed workflow
type ChunkFailure struct {
	ChunkID string    `json:"chunk_id"`
	Ordinal int       `json:"ordinal"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// WorkflowStatus is the queryable view of a workflow execution
type WorkflowStatus struct {
	WorkflowExecution
	CancelRequested bool              `json:"cancel_requested"`
	ChunksTotal     int               `json:"chunks_total"`
	ChunksCompleted int               `json:"chunks_completed"`
	Failures        []ChunkFailure    `json:"failures"`
	Error           *FailureInfo      `json:"error,omitempty"`
	Activities      []ActivityAttempt `json:"activities,omitempty"`
	Result          json.RawMessage   `json:"result,omitempty"`
}
