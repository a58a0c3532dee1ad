package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/conduit/pkg/models"
)

// EventSink receives stream events while a turn runs.
// Implementations must tolerate a disconnected peer: write failures are
// swallowed, never returned to the orchestrator.
type EventSink interface {
	Emit(ctx context.Context, e models.StreamEvent)
}

// ChanSink sends events to a channel, dropping them when the channel is full
// or the context is done.
type ChanSink struct {
	ch chan<- models.StreamEvent
}

// NewChanSink creates a sink that sends to a buffered channel.
func NewChanSink(ch chan<- models.StreamEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the event without blocking.
func (s *ChanSink) Emit(ctx context.Context, e models.StreamEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans out events to multiple sinks.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a fan-out sink. Nil sinks are skipped.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches the event to all sinks.
func (s *MultiSink) Emit(ctx context.Context, e models.StreamEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// FuncSink wraps a function as an EventSink.
type FuncSink func(ctx context.Context, e models.StreamEvent)

// Emit calls the wrapped function.
func (f FuncSink) Emit(ctx context.Context, e models.StreamEvent) {
	if f != nil {
		f(ctx, e)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, models.StreamEvent) {}

// CollectSink records events in memory. Used by the non-streaming path and tests.
type CollectSink struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

// Emit appends the event.
func (s *CollectSink) Emit(_ context.Context, e models.StreamEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (s *CollectSink) Events() []models.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StreamEvent(nil), s.events...)
}

// Types returns the recorded event types in order.
func (s *CollectSink) Types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}
