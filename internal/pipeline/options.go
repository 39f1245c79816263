package pipeline

import (
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/activities"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// DefaultQueue is the task queue ingestion workflows run on
const DefaultQueue = "ingestion"

// DefaultRetryPolicies are the per activity retry policies used when
// configuration does not override them. Parse only fails with terminal
// errors, so a single attempt is enough; chunk writes to the chunk store and
// retries store outages like upsert.
func DefaultRetryPolicies() map[domain.ActivityType]domain.RetryPolicy {
	return map[domain.ActivityType]domain.RetryPolicy{
		activities.TypeFetch: {
			InitialInterval: time.Second,
			Multiplier:      2,
			MaxInterval:     30 * time.Second,
			MaxAttempts:     5,
		},
		activities.TypeParse: {MaxAttempts: 1},
		activities.TypeChunk: {
			InitialInterval: 500 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     30 * time.Second,
			MaxAttempts:     4,
		},
		activities.TypeEmbed: {
			InitialInterval: 500 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     30 * time.Second,
			MaxAttempts:     4,
		},
		activities.TypeUpsert: {
			InitialInterval: 500 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     30 * time.Second,
			MaxAttempts:     6,
		},
	}
}

// DefaultOptions returns the workflow options of an ingestion run
func DefaultOptions() domain.WorkflowOptions {
	return domain.WorkflowOptions{
		Queue:               DefaultQueue,
		MaxConcurrency:      8,
		ExecutionTimeout:    time.Hour,
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicies:       DefaultRetryPolicies(),
	}
}
