package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the type of queued task
type TaskType string

const (
	// TaskTypeWorkflow asks a worker to advance a workflow (decide + dispatch, or fire a timer)
	TaskTypeWorkflow TaskType = "workflow_task"
	// TaskTypeActivity asks a worker to execute one activity attempt
	TaskTypeActivity TaskType = "activity_task"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Payload keys
const (
	PayloadWorkflowID   = "workflow_id"
	PayloadWorkflowType = "workflow_type"
	PayloadRunID        = "run_id"
	PayloadActivityID   = "activity_id"
	PayloadActivityType = "activity_type"
	PayloadAttempt      = "attempt"
	PayloadTimer        = "timer"
	PayloadReason       = "reason"
)

// WorkflowTaskRecover is the reason of the advance task enqueued when a
// workflow is recovered after a restart
const WorkflowTaskRecover = "recover"

// DefaultTaskMaxAttempts bounds infrastructure redeliveries of a single task.
// Activity retries are governed by the workflow's retry policies, not by this.
const DefaultTaskMaxAttempts = 10

// Task represents a unit of work delivered to workers through a task queue
type Task struct {
	// ID is deterministic for a given workflow task or activity attempt so
	// duplicate enqueues collapse on backends that support it
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// Queue is the task queue name this task is routed to
	Queue string `json:"queue"`

	// Payload contains task-specific data, see the Payload* keys
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	Priority int `json:"priority"`

	// Attempts is how many times this task has been delivered
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum delivery count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task becomes visible to workers (retry backoff, timers)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(id string, taskType TaskType, queue string, payload map[string]string) *Task {
	now := time.Now()
	if id == "" {
		id = GenerateID()
	}
	return &Task{
		ID:           id,
		Type:         taskType,
		Queue:        queue,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  DefaultTaskMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// WorkflowTaskID is the deterministic id of a run's decision task for a reason.
func WorkflowTaskID(runID, reason string) string {
	return fmt.Sprintf("%s:wf:%s", runID, reason)
}

// TimerTaskID is the deterministic id of a run's timer task.
func TimerTaskID(runID, timer string) string {
	return fmt.Sprintf("%s:timer:%s", runID, timer)
}

// ActivityTaskID is the deterministic id of one activity attempt.
func ActivityTaskID(runID, activityID string, attempt int) string {
	return fmt.Sprintf("%s:%s#%d", runID, activityID, attempt)
}

// NewWorkflowTask creates a task asking a worker to advance a workflow
func NewWorkflowTask(queue, workflowType, workflowID, runID, reason string) *Task {
	return NewTask(WorkflowTaskID(runID, reason), TaskTypeWorkflow, queue, map[string]string{
		PayloadWorkflowID:   workflowID,
		PayloadWorkflowType: workflowType,
		PayloadRunID:        runID,
		PayloadReason:       reason,
	})
}

// NewTimerTask creates a delayed workflow task that fires the named timer at fireAt
func NewTimerTask(queue, workflowType, workflowID, runID, timer string, fireAt time.Time) *Task {
	t := NewTask(TimerTaskID(runID, timer), TaskTypeWorkflow, queue, map[string]string{
		PayloadWorkflowID:   workflowID,
		PayloadWorkflowType: workflowType,
		PayloadRunID:        runID,
		PayloadTimer:        timer,
	})
	t.ScheduledFor = fireAt
	return t
}

// NewActivityTask creates a task executing one activity attempt, visible at notBefore
func NewActivityTask(queue, workflowID, runID string, activity *ActivityScheduledAttrs) *Task {
	t := NewTask(ActivityTaskID(runID, activity.ActivityID, activity.Attempt), TaskTypeActivity, queue, map[string]string{
		PayloadWorkflowID:   workflowID,
		PayloadRunID:        runID,
		PayloadActivityID:   activity.ActivityID,
		PayloadActivityType: string(activity.ActivityType),
		PayloadAttempt:      strconv.Itoa(activity.Attempt),
	})
	if !activity.NotBefore.IsZero() {
		t.ScheduledFor = activity.NotBefore
	}
	return t
}

func (t *Task) payload(key string) string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

// WorkflowID extracts the workflow id from the payload
func (t *Task) WorkflowID() string { return t.payload(PayloadWorkflowID) }

// WorkflowType extracts the workflow type from the payload (workflow tasks)
func (t *Task) WorkflowType() string { return t.payload(PayloadWorkflowType) }

// RunID extracts the run id from the payload
func (t *Task) RunID() string { return t.payload(PayloadRunID) }

// ActivityID extracts the activity id from the payload (activity tasks)
func (t *Task) ActivityID() string { return t.payload(PayloadActivityID) }

// ActivityType extracts the activity type from the payload (activity tasks)
func (t *Task) ActivityType() ActivityType { return ActivityType(t.payload(PayloadActivityType)) }

// Reason extracts why a workflow task was enqueued
func (t *Task) Reason() string { return t.payload(PayloadReason) }

// Timer extracts the timer name from the payload (timer tasks)
func (t *Task) Timer() string { return t.payload(PayloadTimer) }

// Attempt extracts the activity attempt number, 0 when absent or malformed
func (t *Task) Attempt() int {
	n, err := strconv.Atoi(t.payload(PayloadAttempt))
	if err != nil {
		return 0
	}
	return n
}

// CanRetry returns true if the task can be redelivered
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && !time.Now().Before(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry resets the task for redelivery with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err
	t.ScheduledFor = now.Add(RedeliveryBackoff(t.Attempts))
}

// RedeliveryBackoff is the delay before an infrastructure redelivery: 1s, 2s, 4s ... capped at 5 minutes.
func RedeliveryBackoff(attempts int) time.Duration {
	if attempts > 9 {
		return 5 * time.Minute
	}
	backoff := time.Duration(1<<attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
