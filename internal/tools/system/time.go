// Package system provides built-in tools that report on the runtime: the
// clock and session spend.
package system

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/tools"
)

// TimeTool reports the current time.
type TimeTool struct {
	defaultZone string
	now         func() time.Time
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone such as Europe/Berlin. Defaults to the server timezone."`
}

// NewTimeTool creates a current_time tool. An empty zone means UTC.
func NewTimeTool(defaultZone string) *TimeTool {
	if strings.TrimSpace(defaultZone) == "" {
		defaultZone = "UTC"
	}
	return &TimeTool{defaultZone: defaultZone, now: time.Now}
}

// Name returns the tool name.
func (t *TimeTool) Name() string { return "current_time" }

// Description returns the tool description.
func (t *TimeTool) Description() string {
	return "Get the current date and time, optionally in a specific timezone."
}

// Schema returns the JSON schema for the tool parameters.
func (t *TimeTool) Schema() json.RawMessage { return tools.SchemaFor[timeArgs]() }

// Execute returns the time in the requested zone.
func (t *TimeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	var input timeArgs
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return tools.Errorf("invalid parameters: %v", err), nil
		}
	}
	zone := strings.TrimSpace(input.Timezone)
	if zone == "" {
		zone = t.defaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return tools.Errorf("unknown timezone %q", zone), nil
	}

	now := t.now().In(loc)
	return tools.JSONOutput(map[string]any{
		"timezone": zone,
		"iso8601":  now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"unix":     now.Unix(),
	})
}
