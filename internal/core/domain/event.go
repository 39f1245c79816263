package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies a workflow history event
type EventType string

const (
	EventWorkflowStarted   EventType = "WorkflowStarted"
	EventActivityScheduled EventType = "ActivityScheduled"
	EventActivityStarted   EventType = "ActivityStarted"
	EventActivityCompleted EventType = "ActivityCompleted"
	EventActivityFailed    EventType = "ActivityFailed"
	EventActivityAbandoned EventType = "ActivityAbandoned"
	EventCancelRequested   EventType = "CancelRequested"
	EventTimerFired        EventType = "TimerFired"
	EventWorkflowTerminal  EventType = "WorkflowTerminal"
)

// TimerExecutionTimeout is the timer armed at start that forces TimedOut
const TimerExecutionTimeout = "execution_timeout"

// Event is one entry of a workflow's append-only history.
// Exactly one attribute pointer matching Type is set.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	Seq        int64     `json:"seq"`
	Type       EventType `json:"type"`
	Time       time.Time `json:"time"`

	WorkflowStarted   *WorkflowStartedAttrs   `json:"workflow_started,omitempty"`
	ActivityScheduled *ActivityScheduledAttrs `json:"activity_scheduled,omitempty"`
	ActivityStarted   *ActivityStartedAttrs   `json:"activity_started,omitempty"`
	ActivityCompleted *ActivityCompletedAttrs `json:"activity_completed,omitempty"`
	ActivityFailed    *ActivityFailedAttrs    `json:"activity_failed,omitempty"`
	ActivityAbandoned *ActivityAbandonedAttrs `json:"activity_abandoned,omitempty"`
	CancelRequested   *CancelRequestedAttrs   `json:"cancel_requested,omitempty"`
	TimerFired        *TimerFiredAttrs        `json:"timer_fired,omitempty"`
	WorkflowTerminal  *WorkflowTerminalAttrs  `json:"workflow_terminal,omitempty"`
}

type WorkflowStartedAttrs struct {
	WorkflowType string          `json:"workflow_type"`
	Input        json.RawMessage `json:"input"`
	Options      WorkflowOptions `json:"options"`
}

type ActivityScheduledAttrs struct {
	ActivityID   string          `json:"activity_id"`
	ActivityType ActivityType    `json:"activity_type"`
	Attempt      int             `json:"attempt"`
	Group        int             `json:"group"`
	Input        json.RawMessage `json:"input,omitempty"`
	NotBefore    time.Time       `json:"not_before,omitempty"`
}

type ActivityStartedAttrs struct {
	ActivityID string `json:"activity_id"`
	Attempt    int    `json:"attempt"`
	Worker     string `json:"worker,omitempty"`
}

type ActivityCompletedAttrs struct {
	ActivityID string          `json:"activity_id"`
	Attempt    int             `json:"attempt"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type ActivityFailedAttrs struct {
	ActivityID string      `json:"activity_id"`
	Attempt    int         `json:"attempt"`
	Failure    FailureInfo `json:"failure"`
	Retryable  bool        `json:"retryable"`
}

type ActivityAbandonedAttrs struct {
	ActivityID string      `json:"activity_id"`
	Attempt    int         `json:"attempt"`
	Failure    FailureInfo `json:"failure"`
}

type CancelRequestedAttrs struct {
	Reason string `json:"reason,omitempty"`
}

type TimerFiredAttrs struct {
	Timer string `json:"timer"`
}

type WorkflowTerminalAttrs struct {
	State    WorkflowState   `json:"state"`
	Error    *FailureInfo    `json:"error,omitempty"`
	Failures []ChunkFailure  `json:"failures,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}
