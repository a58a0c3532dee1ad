package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock) *BreakerStore {
	store := NewBreakerStore()
	store.Now = clock.Now
	return store
}

var errBoom = errors.New("boom")

func fail(context.Context) (int, error) { return 0, errBoom }
func succeed(context.Context) (int, error) { return 42, nil }

func TestRunWithBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	policy := BreakerPolicy{FailureThreshold: 3, Window: time.Minute, OpenFor: 10 * time.Second}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := RunWithBreaker(ctx, store, "llm", policy, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected errBoom, got %v", i, err)
		}
	}
	if state := store.State("llm"); state.State != CircuitOpen {
		t.Fatalf("expected open circuit, got %+v", state)
	}

	var calls int32
	_, err := RunWithBreaker(ctx, store, "llm", policy, func(context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) || openErr.Key != "llm" {
		t.Fatalf("expected CircuitOpenError for llm, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("wrapped function must not run while open, ran %d times", calls)
	}
}

func TestRunWithBreaker_RetriesAfterOpenFor(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	policy := BreakerPolicy{FailureThreshold: 1, Window: time.Minute, OpenFor: 5 * time.Second}
	ctx := context.Background()

	_, _ = RunWithBreaker(ctx, store, "tool:github", policy, fail)
	if _, err := RunWithBreaker(ctx, store, "tool:github", policy, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	clock.Advance(5 * time.Second)
	got, err := RunWithBreaker(ctx, store, "tool:github", policy, succeed)
	if err != nil || got != 42 {
		t.Fatalf("expected call after cooldown to succeed, got %d, %v", got, err)
	}
	if state := store.State("tool:github"); state.State != CircuitClosed || state.FailureCount != 0 {
		t.Fatalf("expected closed reset breaker, got %+v", state)
	}
}

func TestRunWithBreaker_WindowResetsCount(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	policy := BreakerPolicy{FailureThreshold: 2, Window: time.Second, OpenFor: time.Minute}
	ctx := context.Background()

	_, _ = RunWithBreaker(ctx, store, "k", policy, fail)
	clock.Advance(2 * time.Second)
	_, _ = RunWithBreaker(ctx, store, "k", policy, fail)

	state := store.State("k")
	if state.State != CircuitClosed {
		t.Fatalf("failures outside the window must not open the circuit: %+v", state)
	}
	if state.FailureCount != 1 {
		t.Fatalf("expected count restarted to 1, got %d", state.FailureCount)
	}
}

func TestRunWithBreaker_SuccessResets(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	policy := BreakerPolicy{FailureThreshold: 2, Window: time.Minute, OpenFor: time.Minute}
	ctx := context.Background()

	_, _ = RunWithBreaker(ctx, store, "k", policy, fail)
	_, _ = RunWithBreaker(ctx, store, "k", policy, succeed)
	_, _ = RunWithBreaker(ctx, store, "k", policy, fail)

	if state := store.State("k"); state.State != CircuitClosed || state.FailureCount != 1 {
		t.Fatalf("expected success to reset the count, got %+v", state)
	}
}

func TestRunWithBreaker_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	policy := BreakerPolicy{FailureThreshold: 1, Window: time.Minute, OpenFor: time.Minute}
	ctx := context.Background()

	_, _ = RunWithBreaker(ctx, store, "tool:a", policy, fail)
	if _, err := RunWithBreaker(ctx, store, "tool:b", policy, succeed); err != nil {
		t.Fatalf("breaker for tool:b must not be affected by tool:a: %v", err)
	}
}

func TestRunWithBreaker_CancellationNotCounted(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	policy := BreakerPolicy{FailureThreshold: 1, Window: time.Minute, OpenFor: time.Minute}

	_, _ = RunWithBreaker(context.Background(), store, "k", policy, func(context.Context) (int, error) {
		return 0, context.Canceled
	})
	if state := store.State("k"); state.FailureCount != 0 {
		t.Fatalf("cancellation must not count as failure: %+v", state)
	}
}

func TestRunWithBreaker_StateChangeCallbacks(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	var transitions []string
	var rejects int
	store.OnStateChange = func(key, from, to string) { transitions = append(transitions, from+"->"+to) }
	store.OnReject = func(string) { rejects++ }
	policy := BreakerPolicy{FailureThreshold: 1, Window: time.Minute, OpenFor: time.Second}
	ctx := context.Background()

	_, _ = RunWithBreaker(ctx, store, "k", policy, fail)
	_, _ = RunWithBreaker(ctx, store, "k", policy, succeed)
	clock.Advance(time.Second)
	_, _ = RunWithBreaker(ctx, store, "k", policy, succeed)

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) || transitions[0] != want[0] || transitions[1] != want[1] {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	if rejects != 1 {
		t.Fatalf("rejects = %d, want 1", rejects)
	}
}

func TestRunWithBreaker_ConcurrentSameKey(t *testing.T) {
	store := NewBreakerStore()
	policy := BreakerPolicy{FailureThreshold: 1000, Window: time.Minute, OpenFor: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = RunWithBreaker(context.Background(), store, "shared", policy, fail)
		}()
	}
	wg.Wait()

	if got := store.State("shared").FailureCount; got != 50 {
		t.Fatalf("expected 50 recorded failures without lost updates, got %d", got)
	}
}
