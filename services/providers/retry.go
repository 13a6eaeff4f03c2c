package providers

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier runs an operation with bounded exponential backoff.
// The delay before attempt n+1 is BaseDelay * 2^n.
type Retrier struct {
	// MaxRetries is the total number of attempts
	MaxRetries int

	// BaseDelay is the delay after the first failed attempt
	BaseDelay time.Duration

	// Sleep is replaced in tests to skip wall-clock waits
	Sleep SleepFunc
}

// NewRetrier returns a retrier using the real clock
func NewRetrier(maxRetries int, baseDelay time.Duration) *Retrier {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Retrier{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Sleep:      SleepContext,
	}
}

// SleepContext blocks for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the delay to wait after the given zero-based attempt
func (r *Retrier) Backoff(attempt int) time.Duration {
	return r.BaseDelay * time.Duration(1<<uint(attempt))
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx is done or
// attempts run out. The last error is returned.
func (r *Retrier) Do(ctx context.Context, fn func(attempt int) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := r.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}

		if err := sleep(ctx, r.Backoff(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}
