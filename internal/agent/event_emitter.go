package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// EventEmitter builds sequenced stream events for one run and dispatches them
// to a sink. Once a terminal event (final or error) has been emitted, later
// events are dropped so the terminal event is always last.
type EventEmitter struct {
	runID    string
	sink     EventSink
	sequence uint64 // atomic counter for monotonic sequencing

	// deliver is held from sequencing through sink.Emit so the sink sees
	// events in sequence order.
	deliver sync.Mutex

	mu        sync.Mutex
	iteration int
	terminal  bool
	lastEmit  time.Time

	now func() time.Time
}

// NewEventEmitter creates an emitter for a run. A nil sink discards events.
func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sink: sink, now: time.Now}
}

// SetIteration updates the iteration stamped on subsequent events.
func (e *EventEmitter) SetIteration(iter int) {
	e.mu.Lock()
	e.iteration = iter
	e.mu.Unlock()
}

// Closed reports whether a terminal event has been emitted.
func (e *EventEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

func (e *EventEmitter) base(eventType models.EventType) models.StreamEvent {
	return models.StreamEvent{
		Type:  eventType,
		Time:  e.now(),
		RunID: e.runID,
	}
}

func (e *EventEmitter) emit(ctx context.Context, event models.StreamEvent) models.StreamEvent {
	terminal := event.Type == models.EventFinal || event.Type == models.EventError
	e.deliver.Lock()
	defer e.deliver.Unlock()

	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return event
	}
	if terminal {
		e.terminal = true
	}
	event.Iteration = e.iteration
	event.Sequence = atomic.AddUint64(&e.sequence, 1)
	e.lastEmit = e.now()
	e.mu.Unlock()

	// Terminal events must reach the sink even when the caller has gone away.
	if terminal {
		ctx = context.WithoutCancel(ctx)
	}
	e.sink.Emit(ctx, event)
	return event
}

// Heartbeat emits an empty assistant.delta marked as a keep-alive.
func (e *EventEmitter) Heartbeat(ctx context.Context) models.StreamEvent {
	event := e.base(models.EventAssistantDelta)
	event.Heartbeat = true
	return e.emit(ctx, event)
}

// StartHeartbeat emits a heartbeat whenever nothing has been emitted for
// interval. The returned stop function blocks until the goroutine exits.
// A non-positive interval disables heartbeats.
func (e *EventEmitter) StartHeartbeat(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.mu.Lock()
				idle := !e.terminal && e.now().Sub(e.lastEmit) >= interval
				e.mu.Unlock()
				if idle {
					e.Heartbeat(ctx)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

// AssistantDelta emits an assistant.delta event for streamed text.
func (e *EventEmitter) AssistantDelta(ctx context.Context, delta string) models.StreamEvent {
	event := e.base(models.EventAssistantDelta)
	event.Delta = delta
	return e.emit(ctx, event)
}

// AssistantDone emits assistant.done with the completed assistant message.
func (e *EventEmitter) AssistantDone(ctx context.Context, content string, calls []models.ToolCall) models.StreamEvent {
	event := e.base(models.EventAssistantDone)
	event.Message = &models.MessagePayload{Content: content, ToolCalls: calls}
	return e.emit(ctx, event)
}

// ToolStarted emits a tool.started event.
func (e *EventEmitter) ToolStarted(ctx context.Context, callID, name, serverID string, args []byte) models.StreamEvent {
	event := e.base(models.EventToolStarted)
	event.Tool = &models.ToolPayload{CallID: callID, Name: name, ServerID: serverID, Args: args}
	return e.emit(ctx, event)
}

// ToolCompleted emits a tool.completed event for a finished invocation.
func (e *EventEmitter) ToolCompleted(ctx context.Context, inv models.ToolInvocation, duration time.Duration) models.StreamEvent {
	status := models.ToolStatusOK
	switch {
	case inv.Cached:
		status = models.ToolStatusCached
	case inv.Error != nil:
		status = models.ToolStatusError
	}
	event := e.base(models.EventToolCompleted)
	event.Tool = &models.ToolPayload{
		CallID:     inv.ToolCallID,
		Name:       inv.Name,
		ServerID:   inv.ServerID,
		Args:       inv.Args,
		Status:     status,
		Result:     inv.Result,
		Error:      inv.Error,
		Attempts:   inv.Attempts,
		DurationMs: duration.Milliseconds(),
	}
	return e.emit(ctx, event)
}

// Usage emits a usage event for one model round-trip.
func (e *EventEmitter) Usage(ctx context.Context, payload models.UsagePayload) models.StreamEvent {
	event := e.base(models.EventUsage)
	event.Usage = &payload
	return e.emit(ctx, event)
}

// BudgetWarning emits budget.warning for soft-limit breaches.
func (e *EventEmitter) BudgetWarning(ctx context.Context, breaches []models.BudgetBreach) models.StreamEvent {
	event := e.base(models.EventBudgetWarning)
	event.Budget = &models.BudgetPayload{Breaches: breaches}
	return e.emit(ctx, event)
}

// BudgetBlocked emits budget.blocked for hard-limit breaches.
func (e *EventEmitter) BudgetBlocked(ctx context.Context, breaches []models.BudgetBreach) models.StreamEvent {
	event := e.base(models.EventBudgetBlocked)
	event.Budget = &models.BudgetPayload{Breaches: breaches}
	return e.emit(ctx, event)
}

// Final emits the terminal final event.
func (e *EventEmitter) Final(ctx context.Context, payload models.FinalPayload) models.StreamEvent {
	event := e.base(models.EventFinal)
	event.Final = &payload
	return e.emit(ctx, event)
}

// Error emits the terminal error event.
func (e *EventEmitter) Error(ctx context.Context, err error) models.StreamEvent {
	event := e.base(models.EventError)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	var loopErr *LoopError
	if errors.As(err, &loopErr) && loopErr.Cause != nil {
		msg = loopErr.Cause.Error()
	}
	event.Error = &models.ErrorPayload{Code: ErrorCode(err), Message: msg}
	return e.emit(ctx, event)
}
