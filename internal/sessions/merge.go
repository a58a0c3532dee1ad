package sessions

import (
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Merge combines a stored checkpoint with an incoming one and returns a new
// checkpoint. History is append-only: messages present in existing are kept
// in place, and incoming messages are appended when not already stored.
// Messages are matched by ID (or role, content and timestamp when the ID is
// empty). Tool results are matched by tool call ID and timestamp.
//
// The stored owner is kept when set. CreatedAt is the earlier of the two and
// UpdatedAt the later. Merge(x, x) equals x.
func Merge(existing, incoming *models.Checkpoint) *models.Checkpoint {
	if existing == nil {
		return incoming.Clone()
	}
	if incoming == nil {
		return existing.Clone()
	}

	out := existing.Clone()
	if out.OwnerID == "" {
		out.OwnerID = incoming.OwnerID
	}

	seen := make(map[messageKey]struct{}, len(out.Messages))
	for _, msg := range out.Messages {
		seen[keyOfMessage(msg)] = struct{}{}
	}
	for _, msg := range incoming.Messages {
		key := keyOfMessage(msg)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if len(msg.ToolCalls) > 0 {
			msg.ToolCalls = append([]models.ToolCall(nil), msg.ToolCalls...)
		}
		out.Messages = append(out.Messages, msg)
	}

	seenResults := make(map[resultKey]struct{}, len(out.ToolResults))
	for _, inv := range out.ToolResults {
		seenResults[keyOfResult(inv)] = struct{}{}
	}
	for _, inv := range incoming.ToolResults {
		key := keyOfResult(inv)
		if _, ok := seenResults[key]; ok {
			continue
		}
		seenResults[key] = struct{}{}
		if inv.Error != nil {
			failure := *inv.Error
			inv.Error = &failure
		}
		out.ToolResults = append(out.ToolResults, inv)
	}

	out.CreatedAt = earlier(existing.CreatedAt, incoming.CreatedAt)
	out.UpdatedAt = later(existing.UpdatedAt, incoming.UpdatedAt)
	return out
}

type messageKey struct {
	id      string
	role    models.Role
	content string
	at      int64
}

func keyOfMessage(msg models.Message) messageKey {
	if msg.ID != "" {
		return messageKey{id: msg.ID}
	}
	return messageKey{role: msg.Role, content: msg.Content, at: msg.CreatedAt.UnixNano()}
}

type resultKey struct {
	callID string
	name   string
	at     int64
}

func keyOfResult(inv models.ToolInvocation) resultKey {
	key := resultKey{callID: inv.ToolCallID, at: inv.Timestamp.UnixNano()}
	if inv.ToolCallID == "" {
		key.name = inv.Name
	}
	return key
}

func earlier(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero() || a.Before(b):
		return a
	default:
		return b
	}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
