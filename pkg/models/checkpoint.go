package models

import "time"

// Checkpoint is the durable snapshot of a conversation's messages and tool history.
type Checkpoint struct {
	ID          string           `json:"id"`
	OwnerID     string           `json:"owner_id,omitempty"`
	Messages    []Message        `json:"messages"`
	ToolResults []ToolInvocation `json:"tool_results"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		if len(msg.ToolCalls) > 0 {
			msg.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
		}
		out.Messages[i] = msg
	}
	out.ToolResults = make([]ToolInvocation, len(c.ToolResults))
	for i, inv := range c.ToolResults {
		if inv.Error != nil {
			failure := *inv.Error
			inv.Error = &failure
		}
		out.ToolResults[i] = inv
	}
	return &out
}
