package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyRunning indicates an active execution already exists for the workflow id
	ErrAlreadyRunning = errors.New("workflow already running")

	// ErrWorkflowClosed indicates the workflow already reached a terminal state
	ErrWorkflowClosed = errors.New("workflow closed")

	// ErrVersionConflict indicates a concurrent append to the same event history
	ErrVersionConflict = errors.New("event history version conflict")

	// ErrStaleTask indicates a task refers to an activity attempt that is no longer runnable
	ErrStaleTask = errors.New("stale task")

	// ErrUnknownWorkflowType indicates no definition is registered for the workflow type
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrUnknownActivityType indicates no handler is registered for the activity type
	ErrUnknownActivityType = errors.New("unknown activity type")

	// ErrServiceUnavailable indicates a downstream service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ErrorKind names the failure taxonomy recorded in workflow history.
type ErrorKind string

const (
	ErrorKindFetch             ErrorKind = "FetchError"
	ErrorKindNotFound          ErrorKind = "NotFoundError"
	ErrorKindUnsupportedFormat ErrorKind = "UnsupportedFormatError"
	ErrorKindContentMismatch   ErrorKind = "ContentMismatchError"
	ErrorKindInvalidInput      ErrorKind = "InvalidInputError"
	ErrorKindEmbeddingService  ErrorKind = "EmbeddingServiceError"
	ErrorKindStoreUnavailable  ErrorKind = "StoreUnavailableError"
	ErrorKindTimeout           ErrorKind = "TimeoutError"
	ErrorKindCancelled         ErrorKind = "CancelledError"
	ErrorKindInternal          ErrorKind = "InternalError"
)

// Retryable reports the default retry classification of a kind.
// Transient kinds are retried per activity policy; terminal kinds never are.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindFetch, ErrorKindEmbeddingService, ErrorKindStoreUnavailable,
		ErrorKindTimeout, ErrorKindInternal:
		return true
	default:
		return false
	}
}

// ActivityError is the typed failure returned by activities.
type ActivityError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	Err       error
}

func (e *ActivityError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

// NewActivityError wraps err with the given kind using the kind's default retryability.
func NewActivityError(kind ErrorKind, err error) *ActivityError {
	ae := &ActivityError{Kind: kind, Retryable: kind.Retryable(), Err: err}
	if err != nil {
		ae.Message = err.Error()
	}
	return ae
}

// Errorf builds an ActivityError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *ActivityError {
	return NewActivityError(kind, fmt.Errorf(format, args...))
}

// ClassifyError maps an arbitrary activity error into the failure taxonomy.
// Unknown errors are treated as transient internal errors.
func ClassifyError(err error) *ActivityError {
	if err == nil {
		return nil
	}
	var ae *ActivityError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewActivityError(ErrorKindTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewActivityError(ErrorKindCancelled, err)
	case errors.Is(err, ErrInvalidInput):
		return NewActivityError(ErrorKindInvalidInput, err)
	default:
		return NewActivityError(ErrorKindInternal, err)
	}
}

// AlreadyRunningError is returned when starting a workflow whose id has an active execution.
type AlreadyRunningError struct {
	WorkflowID string
	RunID      string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("workflow %s already running (run %s)", e.WorkflowID, e.RunID)
}

// Is lets errors.Is(err, ErrAlreadyRunning) match.
func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// FailureInfo is the serialisable form of a failure recorded in history and status.
type FailureInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewFailureInfo converts an error into FailureInfo.
func NewFailureInfo(err error) *FailureInfo {
	ae := ClassifyError(err)
	if ae == nil {
		return nil
	}
	return &FailureInfo{Kind: ae.Kind, Message: ae.Message}
}
