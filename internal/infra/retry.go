package infra

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/conduit/internal/backoff"
)

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	// Retries is the number of retries after the initial attempt (0 = single attempt).
	Retries int `yaml:"retries" json:"retries"`

	// Backoff computes min(Max, Base * 2^retry) delays between attempts.
	Backoff backoff.Policy `yaml:"backoff" json:"backoff"`

	// ShouldRetry decides whether err from the given 1-based attempt is retried.
	// If nil, every error is retried.
	ShouldRetry func(err error, attempt int) bool `yaml:"-" json:"-"`

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error) `yaml:"-" json:"-"`

	// Sleep waits between attempts. Defaults to backoff.SleepWithContext.
	Sleep backoff.Sleeper `yaml:"-" json:"-"`
}

// DefaultRetryPolicy returns sensible defaults for retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries: 2,
		Backoff: backoff.DefaultPolicy(),
	}
}

// RetryResult contains information about a retry operation.
type RetryResult struct {
	// Attempts is the total number of attempts made.
	Attempts int

	// Delays lists the waits taken between attempts.
	Delays []time.Duration

	// TotalDuration is the total time spent including delays.
	TotalDuration time.Duration

	// LastError is the last error encountered (nil on success).
	LastError error
}

// Retry executes fn, retrying failures the policy allows.
// Returns the value of fn, or the zero value with result.LastError set once
// retries are exhausted, the predicate declines, or ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var zero T
	result := &RetryResult{}
	start := time.Now()
	sleep := policy.Sleep
	if sleep == nil {
		sleep = backoff.SleepWithContext
	}

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			if result.LastError == nil {
				result.LastError = err
			}
			break
		}

		val, err := fn(ctx)
		if err == nil {
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			return val, result
		}
		result.LastError = err

		if attempt > policy.Retries || !shouldRetry(ctx, policy, err, attempt) {
			break
		}

		delay := policy.Backoff.Delay(attempt - 1)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		result.Delays = append(result.Delays, delay)
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}

	result.TotalDuration = time.Since(start)
	return zero, result
}

// shouldRetry stops once the caller's context is done or the call was
// cancelled; otherwise it defers to the policy. A deadline hit by a per-attempt
// timeout is still retryable.
func shouldRetry(ctx context.Context, policy RetryPolicy, err error, attempt int) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if policy.ShouldRetry == nil {
		return true
	}
	return policy.ShouldRetry(err, attempt)
}

// Guard composes the breaker around retry: an open circuit fails fast before
// any retry backoff is paid, and an exhausted retry counts as one breaker failure.
func Guard[T any](ctx context.Context, breakers *BreakerStore, key string, bp BreakerPolicy, rp RetryPolicy, fn func(ctx context.Context) (T, error)) (T, *RetryResult, error) {
	var stats *RetryResult
	value, err := RunWithBreaker(ctx, breakers, key, bp, func(ctx context.Context) (T, error) {
		v, res := Retry(ctx, rp, fn)
		stats = res
		return v, res.LastError
	})
	if stats == nil {
		stats = &RetryResult{LastError: err}
	}
	return value, stats, err
}
