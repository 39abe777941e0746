package generator

import (
	"math"
	"time"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const (
	defaultBackoffBase = 5 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// maxAttempts returns the attempt bound; solver runs are expensive, so the
// default is a single attempt.
func maxAttempts(p types.RetryPolicy) int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// CalculateBackoff returns the wait before retry number attempt+1.
// Uses exponential backoff: base * 2^(attempt-1), capped at BackoffMax.
func CalculateBackoff(p types.RetryPolicy, attempt int) time.Duration {
	base := parseOr(p.BackoffBase, defaultBackoffBase)
	ceiling := parseOr(p.BackoffMax, defaultBackoffMax)
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(base) * math.Pow(2, float64(attempt-1))
	if backoff > float64(ceiling) {
		return ceiling
	}
	return time.Duration(backoff)
}

// IsRetryable returns whether a failure category should be retried.
func IsRetryable(p types.RetryPolicy, category types.FailureCategory) bool {
	if category == types.FailurePermanent || category == "" {
		return false
	}
	if len(p.RetryOn) == 0 {
		// Default: retry transient and timeout
		return category == types.FailureTransient || category == types.FailureTimeout
	}
	for _, fc := range p.RetryOn {
		if fc == category {
			return true
		}
	}
	return false
}

func parseOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
