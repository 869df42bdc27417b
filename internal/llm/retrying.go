package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"noema/internal/retry"
)

const defaultRetryBase = 500 * time.Millisecond

// retryingProvider decorates a Provider with bounded exponential backoff on
// transient failures. Deterministic API errors (bad request, auth) surface
// on the first attempt; context cancellation and deadline expiry are never
// retried, so a timed-out call fails fast into the caller's degraded path.
type retryingProvider struct {
	inner Provider
	base  time.Duration
}

// WithRetries wraps p so every Chat call is attempted up to 3 times with
// exponential backoff, retrying only errors IsTransient accepts.
func WithRetries(p Provider, base time.Duration) Provider {
	if base <= 0 {
		base = defaultRetryBase
	}
	return &retryingProvider{inner: p, base: base}
}

func (r *retryingProvider) Chat(ctx context.Context, msgs []Message, model string) (Message, error) {
	var out Message
	err := retry.Do(ctx, r.base, IsTransient, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Chat(ctx, msgs, model)
		return err
	})
	return out, err
}

// IsTransient classifies provider errors worth retrying: rate limits,
// server-side failures, and transport-level problems. The SDKs wrap HTTP
// status differently from one another, so after the structural checks this
// falls back to matching the status text in the error message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "500", "502", "503", "504",
		"rate limit", "too many requests", "overloaded",
		"internal server error", "bad gateway", "service unavailable",
		"connection refused", "connection reset", "temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
