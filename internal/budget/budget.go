// Package budget evaluates token and cost limits against the usage tracker.
package budget

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/usage"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Metric names the quantity a limit caps.
type Metric string

const (
	MetricTokens Metric = "tokens"
	MetricCost   Metric = "cost"
)

// Limit caps spend for one scope within the current window. Soft limits
// warn; hard limits block new turns. A zero threshold is unset.
type Limit struct {
	ID     string      `yaml:"id" json:"id"`
	Scope  usage.Scope `yaml:"scope" json:"scope"`
	Metric Metric      `yaml:"metric" json:"metric"`
	Soft   float64     `yaml:"soft" json:"soft,omitempty"`
	Hard   float64     `yaml:"hard" json:"hard,omitempty"`

	// Subject restricts the limit to one account or user ID.
	Subject string `yaml:"subject" json:"subject,omitempty"`

	// Roles restricts the limit to subjects holding any of these roles.
	Roles []string `yaml:"roles" json:"roles,omitempty"`
}

// Validate checks a limit definition.
func (l Limit) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("limit id is required")
	}
	switch l.Scope {
	case usage.ScopeAccount, usage.ScopeUser:
	default:
		return fmt.Errorf("limit %s: unknown scope %q", l.ID, l.Scope)
	}
	switch l.Metric {
	case MetricTokens, MetricCost:
	default:
		return fmt.Errorf("limit %s: unknown metric %q", l.ID, l.Metric)
	}
	if l.Soft < 0 || l.Hard < 0 {
		return fmt.Errorf("limit %s: thresholds must be non-negative", l.ID)
	}
	if l.Soft == 0 && l.Hard == 0 {
		return fmt.Errorf("limit %s: soft or hard threshold is required", l.ID)
	}
	if l.Soft > 0 && l.Hard > 0 && l.Soft > l.Hard {
		return fmt.Errorf("limit %s: soft threshold exceeds hard threshold", l.ID)
	}
	return nil
}

func (l Limit) appliesTo(subject agent.BudgetSubject) (string, bool) {
	id := subject.AccountID
	if l.Scope == usage.ScopeUser {
		id = subject.UserID
	}
	if id == "" {
		return "", false
	}
	if l.Subject != "" && l.Subject != id {
		return "", false
	}
	if len(l.Roles) > 0 && !slices.ContainsFunc(subject.Roles, func(r string) bool {
		return slices.Contains(l.Roles, r)
	}) {
		return "", false
	}
	return id, true
}

// Evaluator checks static limits against window totals from a tracker.
type Evaluator struct {
	tracker *usage.Tracker
	limits  []Limit
}

// NewEvaluator validates limits and builds an evaluator.
func NewEvaluator(tracker *usage.Tracker, limits []Limit) (*Evaluator, error) {
	if tracker == nil {
		return nil, fmt.Errorf("usage tracker is required")
	}
	seen := make(map[string]struct{}, len(limits))
	for _, l := range limits {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[l.ID]; dup {
			return nil, fmt.Errorf("duplicate limit id %q", l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	return &Evaluator{tracker: tracker, limits: slices.Clone(limits)}, nil
}

// Limits returns the configured limits.
func (e *Evaluator) Limits() []Limit {
	return slices.Clone(e.limits)
}

// Evaluate reports the limits the subject has reached. A limit is breached
// once usage meets its threshold. A breached hard limit is not also reported
// as soft.
func (e *Evaluator) Evaluate(ctx context.Context, subject agent.BudgetSubject) (*agent.BudgetStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	status := &agent.BudgetStatus{}
	for _, l := range e.limits {
		id, ok := l.appliesTo(subject)
		if !ok {
			continue
		}
		totals := e.tracker.WindowTotals(l.Scope, id)
		used := float64(totals.Tokens)
		if l.Metric == MetricCost {
			used = totals.Cost
		}
		breach := models.BudgetBreach{
			LimitID: l.ID,
			Scope:   string(l.Scope),
			Metric:  string(l.Metric),
			Used:    used,
		}
		switch {
		case l.Hard > 0 && used >= l.Hard:
			breach.Limit = l.Hard
			breach.Hard = true
			status.Hard = append(status.Hard, breach)
		case l.Soft > 0 && used >= l.Soft:
			breach.Limit = l.Soft
			status.Soft = append(status.Soft, breach)
		}
	}
	return status, nil
}

var _ agent.BudgetEvaluator = (*Evaluator)(nil)
