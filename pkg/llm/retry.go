package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries around an external call site. The same policy
// type serves both the classifier (5 attempts) and the extractor (3 attempts)
// so the backoff math lives in exactly one place.
type RetryPolicy struct {
	Attempts int           // total attempts including the first
	Floor    time.Duration // initial backoff interval
	Ceiling  time.Duration // backoff never exceeds this
}

// DefaultClassifierRetry is the policy for classify-and-respond calls.
func DefaultClassifierRetry() RetryPolicy {
	return RetryPolicy{Attempts: 5, Floor: 200 * time.Millisecond, Ceiling: 5 * time.Second}
}

// DefaultExtractorRetry is the policy for LLM extraction calls.
func DefaultExtractorRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Floor: 200 * time.Millisecond, Ceiling: 5 * time.Second}
}

// Do runs fn with exponential backoff and jitter until it succeeds, the
// attempt budget is exhausted, or the context is cancelled. The last error is
// returned on exhaustion so the calling stage can apply its fallback.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.Floor > 0 {
		bo.InitialInterval = p.Floor
	}
	if p.Ceiling > 0 {
		bo.MaxInterval = p.Ceiling
	}
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	wrapped := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error { return fn(ctx) }, wrapped)
}
