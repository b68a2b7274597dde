package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// RetryPolicy controls how transient upstream failures are retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy suits the short synchronous calls made per turn.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	InitialDelay: 400 * time.Millisecond,
	MaxDelay:     4 * time.Second,
}

// Retryable reports whether err is worth another attempt: rate limiting,
// upstream 5xx responses and transport timeouts.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

// withRetry runs fn until it succeeds, fails permanently or the policy runs
// out of attempts. The last error is returned.
func withRetry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)
	delay := p.InitialDelay
	if delay <= 0 {
		delay = DefaultRetryPolicy.InitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy.MaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}
		lastErr = fn()
		if lastErr == nil || !Retryable(lastErr) || attempt == attempts {
			return lastErr
		}

		slog.Debug("openai: transient failure, retrying",
			"op", op, "attempt", attempt, "max", attempts, "err", lastErr, "delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, maxDelay)
	}
	return lastErr
}
