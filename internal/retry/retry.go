// Package retry provides a small exponential-backoff helper for transient
// external errors (LLM/vision/semantic-memory HTTP calls), gated on a
// caller-supplied retryable predicate (LLM failures should not retry
// deterministic 4xx errors, only 429/5xx/transport errors).
package retry

import (
	"context"
	"time"
)

const maxAttempts = 3

// Retryable reports whether an error should be retried.
type Retryable func(err error) bool

// Do calls fn up to 3 times, sleeping 2^i * base between attempts, stopping
// early when ctx is cancelled or retryable returns false. The last error is
// returned if every attempt fails.
func Do(ctx context.Context, base time.Duration, retryable Retryable, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		backoff := base << attempt
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
