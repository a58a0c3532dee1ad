// Package models provides domain types shared by the conduit packages.
package models

import (
	"encoding/json"
	"time"
)

// StreamEvent is the unified event streamed to clients while a turn runs.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees within a run
//   - Forward compatible: add fields, never rename or remove
type StreamEvent struct {
	// Type identifies the kind of event.
	Type EventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run.
	Sequence uint64 `json:"seq"`

	// RunID identifies the orchestrator run.
	RunID string `json:"run_id,omitempty"`

	// Iteration is the 1-based loop iteration, zero outside the loop.
	Iteration int `json:"iteration,omitempty"`

	// Delta carries streamed assistant text for assistant.delta.
	Delta string `json:"delta,omitempty"`

	// Heartbeat marks an idle keep-alive assistant.delta with no content.
	Heartbeat bool `json:"heartbeat,omitempty"`

	// Exactly one payload should be non-nil for types that carry one.
	Message *MessagePayload `json:"message,omitempty"`
	Tool    *ToolPayload    `json:"tool,omitempty"`
	Usage   *UsagePayload   `json:"usage,omitempty"`
	Budget  *BudgetPayload  `json:"budget,omitempty"`
	Final   *FinalPayload   `json:"final,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// EventType identifies the kind of stream event.
type EventType string

const (
	EventAssistantDelta EventType = "assistant.delta"
	EventAssistantDone  EventType = "assistant.done"
	EventToolStarted    EventType = "tool.started"
	EventToolCompleted  EventType = "tool.completed"
	EventUsage          EventType = "usage"
	EventBudgetWarning  EventType = "budget.warning"
	EventBudgetBlocked  EventType = "budget.blocked"
	EventFinal          EventType = "final"
	EventError          EventType = "error"
)

// MessagePayload carries a completed assistant message.
type MessagePayload struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolStatus is the terminal status reported in tool.completed.
type ToolStatus string

const (
	ToolStatusOK     ToolStatus = "ok"
	ToolStatusError  ToolStatus = "error"
	ToolStatusCached ToolStatus = "cached"
)

// ToolPayload carries tool lifecycle details.
type ToolPayload struct {
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	ServerID   string          `json:"server_id,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Status     ToolStatus      `json:"status,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      *ToolFailure    `json:"error,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// UsagePayload reports token usage for one model round-trip.
type UsagePayload struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// BudgetBreach describes one exceeded budget limit.
type BudgetBreach struct {
	LimitID string  `json:"limit_id"`
	Scope   string  `json:"scope"`  // account, user, role
	Metric  string  `json:"metric"` // tokens, cost
	Limit   float64 `json:"limit"`
	Used    float64 `json:"used"`
	Hard    bool    `json:"hard"`
}

// BudgetPayload carries the breaches that triggered a budget event.
type BudgetPayload struct {
	Breaches []BudgetBreach `json:"breaches"`
}

// OutcomeStatus is the terminal status of a turn.
type OutcomeStatus string

const (
	OutcomeSuccess    OutcomeStatus = "success"
	OutcomeIncomplete OutcomeStatus = "incomplete"
	OutcomeAborted    OutcomeStatus = "aborted"
)

// FinalPayload summarizes a finished turn.
type FinalPayload struct {
	Status     OutcomeStatus `json:"status"`
	Content    string        `json:"content"`
	SessionID  string        `json:"session_id,omitempty"`
	Iterations int           `json:"iterations"`
	Usage      *UsagePayload `json:"usage,omitempty"`
}

// ErrorPayload carries a terminal error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
