package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls how many additional attempts a non-streaming upstream
// call gets and the fixed delay between them. Unlike a generic exponential
// backoff, the upstream client spec calls for a flat inter-attempt delay —
// the upstream proxy already queues/paces requests on its side.
type RetryPolicy struct {
	MaxRetries int           // additional attempts beyond the first, 0 disables retry
	Delay      time.Duration // fixed delay between attempts
	OnRetry    func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy matches the gateway's documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Delay:      1 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Delay <= 0 {
		p.Delay = 1 * time.Second
	}
	return p
}

// retryable classifies an error as transient — the request can be retried.
// The caller wraps every error status in *HTTPError; of those, only 502,
// 503 and 504 are retryable.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 502, 503, 504:
			return true
		default:
			return false
		}
	}
	// Anything else reaching here (connection refused, timeout, DNS, ...) is
	// treated as a connection-level fault and is retryable.
	return true
}

// retrier runs a non-streaming upstream call under the fixed-delay policy.
type retrier struct {
	policy RetryPolicy
	logger *zap.Logger
}

func newRetrier(policy RetryPolicy, logger *zap.Logger) *retrier {
	return &retrier{policy: policy.withDefaults(), logger: logger}
}

// do executes fn, retrying on transient faults up to policy.MaxRetries
// additional times with a fixed delay between attempts. Terminal errors
// (non-retryable HTTP statuses, client cancellation) are returned as-is.
func (r *retrier) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, r.policy.Delay)
			}
			r.logger.Debug("retrying upstream call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", r.policy.Delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("upstream retry cancelled: %w", ctx.Err())
			case <-time.After(r.policy.Delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	if isConnError(lastErr) {
		return &UnavailableError{Cause: lastErr}
	}
	return lastErr
}
