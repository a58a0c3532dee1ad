package agent

import (
	"context"

	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// LLMProvider is the interface for LLM backends (Anthropic, OpenAI, etc.).
// Providers translate between the orchestrator's message format and their
// native API, streaming response chunks through a channel.
//
// Implementations must be safe for concurrent use and must stop sending and
// close the channel when ctx is cancelled.
type LLMProvider interface {
	// Complete sends a completion request and returns a channel of chunks.
	// The channel is closed when the response is complete or an error occurs.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model is the model identifier (e.g., "claude-sonnet-4-20250514", "gpt-4o").
	Model string `json:"model"`

	// System is the system prompt that sets model behavior.
	System string `json:"system,omitempty"`

	// Messages is the conversation history, oldest first.
	Messages []models.Message `json:"messages"`

	// Tools lists the permission-filtered tools the model may call.
	Tools []models.ToolDefinition `json:"tools,omitempty"`

	// ToolChoice is "auto" (default), "none" or "required".
	ToolChoice string `json:"tool_choice,omitempty"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// FinishReason reports why the provider stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// ToolCallDelta is a fragment of a tool call. Fragments for the same call
// share Index; ID and Name may arrive in any fragment or not at all.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// CompletionChunk is a tagged variant streamed from the provider. Every field
// is optional; a chunk may carry text, tool-call fragments, a finish reason,
// usage, or an error.
type CompletionChunk struct {
	// Text is incremental assistant text.
	Text string `json:"text,omitempty"`

	// ToolCallDeltas carries tool-call fragments keyed by stream index.
	ToolCallDeltas []ToolCallDelta `json:"tool_call_deltas,omitempty"`

	// FinishReason is set once the provider signals completion.
	FinishReason FinishReason `json:"finish_reason,omitempty"`

	// Usage reports token consumption, usually on the last chunk.
	Usage *usage.Usage `json:"usage,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}
