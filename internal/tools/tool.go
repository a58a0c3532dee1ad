// Package tools hosts the built-in tools and the registry that merges them
// with tools discovered from MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/haasonsaas/conduit/internal/agent"
)

// Tool is a tool executed in-process.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*agent.ToolOutput, error)
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateName checks that a tool name is accepted by every provider.
func ValidateName(name string) error {
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name %q: must match %s", name, toolNamePattern.String())
	}
	return nil
}

// Errorf builds a tool-reported failure.
func Errorf(format string, args ...any) *agent.ToolOutput {
	return &agent.ToolOutput{Content: fmt.Sprintf(format, args...), IsError: true}
}

// JSONOutput encodes v as the tool result content.
func JSONOutput(v any) (*agent.ToolOutput, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &agent.ToolOutput{Content: string(payload)}, nil
}
