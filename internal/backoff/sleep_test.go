package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepWithContext_Completes(t *testing.T) {
	start := time.Now()

	err := SleepWithContext(context.Background(), 30*time.Millisecond)

	if err != nil {
		t.Errorf("SleepWithContext() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("SleepWithContext() completed too quickly: %v", elapsed)
	}
}

func TestSleepWithContext_ZeroDuration(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Errorf("SleepWithContext() error = %v, want nil", err)
	}
	if err := SleepWithContext(context.Background(), -time.Second); err != nil {
		t.Errorf("SleepWithContext() negative error = %v, want nil", err)
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := SleepWithContext(ctx, time.Second)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("SleepWithContext() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("SleepWithContext() did not return promptly: %v", elapsed)
	}
}

func TestSleepWithContext_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := SleepWithContext(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepWithContext() error = %v, want context.Canceled", err)
	}
}
