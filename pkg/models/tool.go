package models

import (
	"encoding/json"
	"time"
)

// ToolDefinition describes a tool exposed by a tool server.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON schema
	ServerID    string          `json:"server_id"`
}

// QualifiedName returns "<serverId>_<toolName>", the composite form policies may match.
func (d ToolDefinition) QualifiedName() string {
	if d.ServerID == "" {
		return d.Name
	}
	return d.ServerID + "_" + d.Name
}

// ToolInvocation is an append-only record of a single tool invocation within a session.
type ToolInvocation struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name"`
	ServerID   string          `json:"server_id,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	RawArgs    string          `json:"raw_args,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      *ToolFailure    `json:"error,omitempty"`
	Attempts   int             `json:"attempts,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToolFailure is the structured error attached to a failed invocation.
type ToolFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Standard tool failure codes.
const (
	ToolCodeMalformedArgs = "MALFORMED_TOOL_ARGS"
	ToolCodeNotPermitted  = "tool_not_permitted"
	ToolCodeInvalidArgs   = "invalid_tool_args"
	ToolCodeCircuitOpen   = "circuit_open"
	ToolCodeExecution     = "tool_execution_failed"
	ToolCodeCancelled     = "tool_cancelled"
)
