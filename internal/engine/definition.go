package engine

import (
	"encoding/json"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Command asks the engine to schedule the first attempt of an activity
type Command struct {
	ActivityID string
	Type       domain.ActivityType
	Group      int
	Input      json.RawMessage
}

// Outcome closes a run
type Outcome struct {
	State    domain.WorkflowState
	Error    *domain.FailureInfo
	Failures []domain.ChunkFailure
	Result   json.RawMessage
}

// Definition is the deterministic decision logic of a workflow type.
// Every method must be a pure function of the replayed State.
type Definition interface {
	// Name is the workflow type
	Name() string

	// Plan returns the activities that are ready to be scheduled, most urgent
	// first. Activities already present in the state are ignored.
	Plan(s *State) ([]Command, error)

	// Outcome returns how the run ends, or nil while it still has work to do.
	// It is only consulted when no activity is in flight.
	Outcome(s *State) *Outcome

	// Progress fills the definition specific counters of a status view
	Progress(s *State, status *domain.WorkflowStatus)
}
