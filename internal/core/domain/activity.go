package domain

import (
	"context"
	"encoding/json"
)

// ActivityFunc executes one activity attempt. The input is the JSON recorded
// when the activity was scheduled; the returned value is JSON-encoded into
// history as the activity result. Errors should be *ActivityError so the
// engine can tell retryable failures from terminal ones.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)
