package backoff

import (
	"context"
	"time"
)

// Sleeper waits for a duration or until ctx is done.
type Sleeper func(ctx context.Context, duration time.Duration) error

// SleepWithContext sleeps for the specified duration, respecting context cancellation.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
