// Package infra provides fault-tolerance primitives: keyed circuit breakers,
// bounded retry and transient error classification.
package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Circuit breaker states
const (
	CircuitClosed = "closed"
	CircuitOpen   = "open"
)

// ErrCircuitOpen is returned, wrapped in *CircuitOpenError, when a keyed breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports which breaker rejected the call and until when.
type CircuitOpenError struct {
	Key       string
	OpenUntil time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open until %s", e.Key, e.OpenUntil.Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// BreakerPolicy configures a keyed breaker.
type BreakerPolicy struct {
	// FailureThreshold is the number of failures within Window that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// Window is the lookback window; a failure older than Window restarts the count.
	Window time.Duration `yaml:"window" json:"window"`

	// OpenFor is how long the circuit stays open before a call is attempted again.
	OpenFor time.Duration `yaml:"open_for" json:"open_for"`
}

// DefaultBreakerPolicy returns the defaults used for unset fields.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		Window:           time.Minute,
		OpenFor:          30 * time.Second,
	}
}

func (p BreakerPolicy) withDefaults() BreakerPolicy {
	def := DefaultBreakerPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = def.FailureThreshold
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.OpenFor <= 0 {
		p.OpenFor = def.OpenFor
	}
	return p
}

// BreakerState is a snapshot of one keyed breaker.
type BreakerState struct {
	Key           string
	State         string
	FailureCount  int
	LastFailureAt time.Time
	OpenUntil     time.Time
}

type breakerEntry struct {
	mu            sync.Mutex
	failureCount  int
	lastFailureAt time.Time
	openUntil     time.Time
}

// BreakerStore holds keyed breaker state. Entries are created lazily and each
// entry has its own lock, so different keys never block each other.
type BreakerStore struct {
	mu      sync.RWMutex
	entries map[string]*breakerEntry

	// Now returns the current time. Tests may replace it.
	Now func() time.Time

	// OnStateChange is called after a key transitions between closed and open.
	OnStateChange func(key, from, to string)

	// OnReject is called when an open breaker short-circuits a call.
	OnReject func(key string)
}

// NewBreakerStore creates an empty store.
func NewBreakerStore() *BreakerStore {
	return &BreakerStore{
		entries: make(map[string]*breakerEntry),
		Now:     time.Now,
	}
}

// DefaultBreakers is the process-wide store shared by concurrent runs.
var DefaultBreakers = NewBreakerStore()

func (s *BreakerStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *BreakerStore) entry(key string) *breakerEntry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = &breakerEntry{}
	s.entries[key] = e
	return e
}

// RunWithBreaker runs fn unless the breaker for key is open. Success resets the
// failure count; failure counts toward opening the circuit. Caller
// cancellation does not count as a failure.
func RunWithBreaker[T any](ctx context.Context, s *BreakerStore, key string, policy BreakerPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if s == nil {
		s = DefaultBreakers
	}
	policy = policy.withDefaults()
	e := s.entry(key)

	e.mu.Lock()
	if until := e.openUntil; s.now().Before(until) {
		e.mu.Unlock()
		if s.OnReject != nil {
			s.OnReject(key)
		}
		return zero, &CircuitOpenError{Key: key, OpenUntil: until}
	}
	e.mu.Unlock()

	result, err := fn(ctx)

	switch {
	case err == nil:
		s.recordSuccess(key, e)
	case errors.Is(err, context.Canceled):
	default:
		s.recordFailure(key, e, policy)
	}
	return result, err
}

func (s *BreakerStore) recordSuccess(key string, e *breakerEntry) {
	e.mu.Lock()
	wasOpen := !e.openUntil.IsZero()
	e.failureCount = 0
	e.openUntil = time.Time{}
	e.mu.Unlock()

	if wasOpen && s.OnStateChange != nil {
		s.OnStateChange(key, CircuitOpen, CircuitClosed)
	}
}

func (s *BreakerStore) recordFailure(key string, e *breakerEntry, policy BreakerPolicy) {
	now := s.now()

	e.mu.Lock()
	if !e.lastFailureAt.IsZero() && now.Sub(e.lastFailureAt) > policy.Window {
		e.failureCount = 0
	}
	e.failureCount++
	e.lastFailureAt = now
	opened := false
	if e.failureCount >= policy.FailureThreshold {
		opened = !now.Before(e.openUntil)
		e.openUntil = now.Add(policy.OpenFor)
	}
	e.mu.Unlock()

	if opened && s.OnStateChange != nil {
		s.OnStateChange(key, CircuitClosed, CircuitOpen)
	}
}

// State returns a snapshot of the breaker for key.
func (s *BreakerStore) State(key string) BreakerState {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return BreakerState{Key: key, State: CircuitClosed}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	state := CircuitClosed
	if s.now().Before(e.openUntil) {
		state = CircuitOpen
	}
	return BreakerState{
		Key:           key,
		State:         state,
		FailureCount:  e.failureCount,
		LastFailureAt: e.lastFailureAt,
		OpenUntil:     e.openUntil,
	}
}
