package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/conduit/internal/tools/policy"
	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// ToolRegistry lists and invokes tools. Tool names are unique across servers.
type ToolRegistry interface {
	ListTools(ctx context.Context) ([]models.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolOutput, error)
}

// ToolOutput is the result of a tool call. IsError marks a failure reported
// by the tool itself rather than by the transport.
type ToolOutput struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// BudgetSubject identifies whose budgets are evaluated.
type BudgetSubject struct {
	AccountID string   `json:"account_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// BudgetStatus lists exceeded soft and hard limits.
type BudgetStatus struct {
	Soft []models.BudgetBreach `json:"soft,omitempty"`
	Hard []models.BudgetBreach `json:"hard,omitempty"`
}

// Blocked reports whether any hard limit is exceeded.
func (s *BudgetStatus) Blocked() bool {
	return s != nil && len(s.Hard) > 0
}

// BudgetEvaluator evaluates spend limits for a subject.
type BudgetEvaluator interface {
	Evaluate(ctx context.Context, subject BudgetSubject) (*BudgetStatus, error)
}

// UsageRecorder records token usage once per model round-trip.
// It returns nil when nothing was recorded.
type UsageRecorder interface {
	Record(ctx context.Context, sessionID string, u usage.Usage, model string) (*usage.Record, error)
}

// CheckpointStore persists conversation checkpoints. Load returns (nil, nil)
// when no checkpoint exists. Save must be idempotent.
type CheckpointStore interface {
	Load(ctx context.Context, id string) (*models.Checkpoint, error)
	Save(ctx context.Context, cp *models.Checkpoint) error
}

// PolicySource returns the current policy engine. Reloadable configurations
// swap the engine without restarting in-flight runs.
type PolicySource interface {
	Engine() *policy.Engine
}

// StaticPolicy is a PolicySource that always returns the same engine.
type StaticPolicy struct {
	engine *policy.Engine
}

// NewStaticPolicy wraps engine as a PolicySource.
func NewStaticPolicy(engine *policy.Engine) *StaticPolicy {
	return &StaticPolicy{engine: engine}
}

// Engine returns the wrapped engine.
func (s *StaticPolicy) Engine() *policy.Engine { return s.engine }

// Turn is one client request.
type Turn struct {
	Messages      []models.Message `json:"messages"`
	MaxIterations int              `json:"max_iterations,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	Model         string           `json:"model,omitempty"`
}

// Validate rejects malformed turns before any state is created.
func (t *Turn) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: turn is required", ErrInvalidTurn)
	}
	if len(t.Messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidTurn)
	}
	if t.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be non-negative", ErrInvalidTurn)
	}
	for i, msg := range t.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("%w: messages[%d] has invalid role %q", ErrInvalidTurn, i, msg.Role)
		}
		if msg.Role == models.RoleTool && strings.TrimSpace(msg.ToolCallID) == "" {
			return fmt.Errorf("%w: messages[%d] tool message requires tool_call_id", ErrInvalidTurn, i)
		}
	}
	return nil
}

// Outcome is the result of a turn.
type Outcome struct {
	Status          models.OutcomeStatus    `json:"status"`
	Content         string                  `json:"content"`
	SessionID       string                  `json:"session_id"`
	RunID           string                  `json:"run_id"`
	Model           string                  `json:"model"`
	Iterations      int                     `json:"iterations"`
	Messages        []models.Message        `json:"messages"`
	ToolInvocations []models.ToolInvocation `json:"tool_invocations,omitempty"`
	Usage           usage.Usage             `json:"usage"`
	Cost            float64                 `json:"cost,omitempty"`
	BudgetBefore    *BudgetStatus           `json:"budget_before,omitempty"`
	BudgetAfter     *BudgetStatus           `json:"budget_after,omitempty"`

	limitReached bool
}

// Err reports why an incomplete outcome stopped early. It wraps
// ErrMaxIterations when the iteration limit ended the turn and is nil
// otherwise.
func (o *Outcome) Err() error {
	if o == nil || !o.limitReached {
		return nil
	}
	return fmt.Errorf("%w: stopped after %d iterations", ErrMaxIterations, o.Iterations)
}
