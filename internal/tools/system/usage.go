package system

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/internal/usage"
)

// SessionTotals reports usage recorded for a session.
type SessionTotals interface {
	GetSessionTotals(sessionID string) (usage.Usage, float64)
}

// UsageTool reports token usage and spend for the current session.
type UsageTool struct {
	totals SessionTotals
}

type usageArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Session to report on. Defaults to the current session."`
}

// NewUsageTool creates a session_usage tool.
func NewUsageTool(totals SessionTotals) *UsageTool {
	return &UsageTool{totals: totals}
}

// Name returns the tool name.
func (t *UsageTool) Name() string { return "session_usage" }

// Description returns the tool description.
func (t *UsageTool) Description() string {
	return "Get token usage and estimated cost for the current conversation."
}

// Schema returns the JSON schema for the tool parameters.
func (t *UsageTool) Schema() json.RawMessage { return tools.SchemaFor[usageArgs]() }

// Execute reports the session totals.
func (t *UsageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	if t.totals == nil {
		return tools.Errorf("usage tracking unavailable"), nil
	}

	var input usageArgs
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return tools.Errorf("invalid parameters: %v", err), nil
		}
	}
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = observability.GetSessionID(ctx)
	}
	if sessionID == "" {
		return tools.Errorf("no session in scope; pass session_id"), nil
	}

	u, cost := t.totals.GetSessionTotals(sessionID)
	out := map[string]any{
		"session_id":    sessionID,
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.Total(),
		"summary":       usage.FormatUsageDetailed(&u),
	}
	if formatted := usage.FormatUSD(cost); formatted != "" {
		out["estimated_cost"] = formatted
	}
	return tools.JSONOutput(out)
}
