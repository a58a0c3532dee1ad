package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/conduit/internal/infra"
	"github.com/haasonsaas/conduit/pkg/models"
)

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ToolErrorType
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ToolErrorTimeout},
		{name: "circuit", err: &infra.CircuitOpenError{Key: "tool:x"}, want: ToolErrorCircuitOpen},
		{name: "not found", err: ErrToolNotFound, want: ToolErrorPermission},
		{name: "429", err: &statusError{code: 429}, want: ToolErrorRateLimit},
		{name: "400", err: &statusError{code: 400}, want: ToolErrorInvalidInput},
		{name: "network phrase", err: errors.New("dial tcp: connection refused"), want: ToolErrorNetwork},
		{name: "validation phrase", err: errors.New("missing required property"), want: ToolErrorInvalidInput},
		{name: "unknown", err: errBoom, want: ToolErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyToolError(tt.err); got != tt.want {
				t.Errorf("classifyToolError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestToolErrorFailure(t *testing.T) {
	tests := []struct {
		name     string
		cause    error
		wantCode string
		wantHint string
	}{
		{name: "circuit open", cause: &infra.CircuitOpenError{Key: "tool:x"}, wantCode: models.ToolCodeCircuitOpen},
		{name: "hinted validation", cause: &hintError{msg: "invalid: city is required", hint: "a city name"}, wantCode: models.ToolCodeInvalidArgs, wantHint: "a city name"},
		{name: "generic", cause: errBoom, wantCode: models.ToolCodeExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewToolError("weather", tt.cause).Failure()
			if f.Code != tt.wantCode || f.Hint != tt.wantHint {
				t.Errorf("Failure() = %+v, want code %s hint %q", f, tt.wantCode, tt.wantHint)
			}
		})
	}
}

func TestIsToolRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "503", err: &statusError{code: 503}, want: true},
		{name: "400", err: &statusError{code: 400}, want: false},
		{name: "partial stream", err: &partialStreamError{cause: &statusError{code: 503}}, want: false},
		{name: "canceled", err: context.Canceled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsToolRetryable(tt.err, 1); got != tt.want {
				t.Errorf("IsToolRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: ErrBudgetBlocked, want: "budget_blocked"},
		{err: fmt.Errorf("%w: gpt-x", ErrModelNotAllowed), want: "model_not_allowed"},
		{err: fmt.Errorf("%w: empty", ErrInvalidTurn), want: "invalid_request"},
		{err: ErrSessionForbidden, want: "session_forbidden"},
		{err: (&Outcome{Iterations: 2, limitReached: true}).Err(), want: "max_iterations"},
		{err: &LoopError{Cause: &infra.CircuitOpenError{Key: "llm"}}, want: "circuit_open"},
		{err: &LoopError{Cause: errBoom}, want: "llm_error"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
