package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

const maxFallbackErrors = 3

// fallbackSummary builds the deterministic assistant message used when a turn
// ends without a plain-text answer. It never returns an empty string.
func fallbackSummary(reason string, invocations []models.ToolInvocation) string {
	var b strings.Builder
	if reason == "" {
		reason = "I wasn't able to produce a final answer for this request."
	}
	b.WriteString(reason)

	var failures []models.ToolInvocation
	var succeeded []string
	seen := make(map[string]bool)
	for i := len(invocations) - 1; i >= 0; i-- {
		inv := invocations[i]
		if inv.Error != nil {
			if len(failures) < maxFallbackErrors {
				failures = append(failures, inv)
			}
			continue
		}
		if !seen[inv.Name] {
			seen[inv.Name] = true
			succeeded = append(succeeded, inv.Name)
		}
	}

	if len(succeeded) > 0 {
		// Restore call order.
		for i, j := 0, len(succeeded)-1; i < j; i, j = i+1, j-1 {
			succeeded[i], succeeded[j] = succeeded[j], succeeded[i]
		}
		fmt.Fprintf(&b, "\n\nCompleted tool calls: %s.", strings.Join(succeeded, ", "))
	}

	if len(failures) > 0 {
		b.WriteString("\n\nRecent tool errors:")
		for i := len(failures) - 1; i >= 0; i-- {
			f := failures[i]
			fmt.Fprintf(&b, "\n- %s (%s): %s", f.Name, f.Error.Code, f.Error.Message)
		}
		var hints []string
		for i := len(failures) - 1; i >= 0; i-- {
			if h := strings.TrimSpace(failures[i].Error.Hint); h != "" {
				hints = append(hints, h)
			}
		}
		if len(hints) > 0 {
			b.WriteString("\n\nTo continue, please provide:")
			for _, h := range hints {
				fmt.Fprintf(&b, "\n- %s", h)
			}
		}
	}
	return b.String()
}
