package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/conduit/internal/infra"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Common sentinel errors for orchestrator operations
var (
	// ErrMaxIterations indicates the loop exhausted its iteration budget
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist or is not permitted
	ErrToolNotFound = errors.New("tool not found")

	// ErrBudgetBlocked indicates a hard budget limit blocked the turn
	ErrBudgetBlocked = errors.New("budget hard limit exceeded")

	// ErrModelNotAllowed indicates the requested model is denied by policy
	ErrModelNotAllowed = errors.New("model not allowed")

	// ErrInvalidTurn indicates a malformed request
	ErrInvalidTurn = errors.New("invalid turn")

	// ErrSessionForbidden indicates the session belongs to another subject
	ErrSessionForbidden = errors.New("session forbidden")

	// ErrCheckpointUnavailable indicates the session checkpoint could not be loaded
	ErrCheckpointUnavailable = errors.New("checkpoint unavailable")
)

// Hinter is implemented by errors that can tell the model (and the user)
// what input would let the call succeed.
type Hinter interface {
	Hint() string
}

// ToolErrorType categorizes tool execution errors for retry logic and error handling.
type ToolErrorType string

const (
	ToolErrorTimeout       ToolErrorType = "timeout"
	ToolErrorNetwork       ToolErrorType = "network"
	ToolErrorRateLimit     ToolErrorType = "rate_limit"
	ToolErrorPermission    ToolErrorType = "permission"
	ToolErrorInvalidInput  ToolErrorType = "invalid_input"
	ToolErrorMalformedArgs ToolErrorType = "malformed_args"
	ToolErrorCircuitOpen   ToolErrorType = "circuit_open"
	ToolErrorUnknown       ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying the operation may succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError represents a structured error from tool execution.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError, classifying the cause.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{ToolName: toolName, Cause: cause, Type: ToolErrorUnknown, Attempts: 1}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

// Failure converts the error into the structured form fed back to the model.
func (e *ToolError) Failure() *models.ToolFailure {
	code := models.ToolCodeExecution
	switch e.Type {
	case ToolErrorMalformedArgs:
		code = models.ToolCodeMalformedArgs
	case ToolErrorPermission:
		code = models.ToolCodeNotPermitted
	case ToolErrorInvalidInput:
		code = models.ToolCodeInvalidArgs
	case ToolErrorCircuitOpen:
		code = models.ToolCodeCircuitOpen
	}
	failure := &models.ToolFailure{Code: code, Message: e.Message}
	var h Hinter
	if errors.As(e.Cause, &h) {
		failure.Hint = h.Hint()
	}
	return failure
}

// classifyToolError determines the error type from the error chain and message.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, infra.ErrCircuitOpen) {
		return ToolErrorCircuitOpen
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorPermission
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ToolErrorTimeout
	}
	var sc infra.StatusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code == 429:
			return ToolErrorRateLimit
		case code == 401 || code == 403:
			return ToolErrorPermission
		case code == 400 || code == 422:
			return ToolErrorInvalidInput
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") || strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "permission") || strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "unauthorized"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required"):
		return ToolErrorInvalidInput
	}
	return ToolErrorUnknown
}

// IsToolRetryable reports whether a tool call error should be retried. Errors
// the registry marks explicitly keep their verdict; otherwise the transient
// classifier decides, falling back to the error type.
func IsToolRetryable(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if infra.IsTransient(err) {
		return true
	}
	var r infra.Retryabler
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return classifyToolError(err).IsRetryable()
}

// LoopPhase represents a distinct phase in the orchestration loop.
type LoopPhase string

const (
	PhaseAwaitModel   LoopPhase = "await_model"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseFinalize     LoopPhase = "finalize"
)

// LoopError represents an error that aborted the loop.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// partialStreamError marks a model stream that failed after text was already
// forwarded to the client. Retrying would duplicate deltas, so it is terminal.
type partialStreamError struct {
	cause error
}

func (e *partialStreamError) Error() string {
	return "model stream interrupted: " + e.cause.Error()
}

func (e *partialStreamError) Unwrap() error   { return e.cause }
func (e *partialStreamError) Retryable() bool { return false }

// ErrorCode maps a terminal error to the code sent in the error event.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrBudgetBlocked):
		return "budget_blocked"
	case errors.Is(err, ErrModelNotAllowed):
		return "model_not_allowed"
	case errors.Is(err, ErrInvalidTurn):
		return "invalid_request"
	case errors.Is(err, ErrSessionForbidden):
		return "session_forbidden"
	case errors.Is(err, ErrCheckpointUnavailable):
		return "checkpoint_unavailable"
	case errors.Is(err, infra.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrNoProvider):
		return "no_provider"
	case errors.Is(err, ErrMaxIterations):
		return "max_iterations"
	default:
		return "llm_error"
	}
}
