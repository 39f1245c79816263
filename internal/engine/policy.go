package engine

import (
	"math"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Backoff returns the delay before retrying after the given failed attempt:
// InitialInterval * Multiplier^(attempt-1), capped at MaxInterval.
func Backoff(p domain.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 || p.InitialInterval <= 0 {
		return 0
	}
	var d time.Duration
	b := policyBackoff(p)
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}

func policyBackoff(p domain.RetryPolicy) retry.Backoff {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	// clamp in float space: converting 2^63 or more to an int64 overflows
	limit := float64(math.MaxInt64 / 2)
	if p.MaxInterval > 0 {
		limit = math.Min(limit, float64(p.MaxInterval))
	}
	next := float64(p.InitialInterval)
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(math.Min(next, limit))
		if next < limit {
			next *= mult
		}
		return d, false
	})
	if p.MaxInterval > 0 {
		b = retry.WithCappedDuration(p.MaxInterval, b)
	}
	return b
}

// CanRetry reports whether another attempt is allowed after attempt failed
func CanRetry(p domain.RetryPolicy, attempt int) bool {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	return attempt < max
}
