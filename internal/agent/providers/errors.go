package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason classifies a provider failure. The orchestrator only retries
// reasons for which another attempt can plausibly succeed.
type Reason string

const (
	ReasonBilling          Reason = "billing"
	ReasonRateLimit        Reason = "rate_limit"
	ReasonAuth             Reason = "auth"
	ReasonTimeout          Reason = "timeout"
	ReasonServerError      Reason = "server_error"
	ReasonNetwork          Reason = "network" // no response at all
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonContentFilter    Reason = "content_filter"
	ReasonUnknown          Reason = "unknown"
)

// IsRetryable reports whether a retry may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonNetwork:
		return true
	}
	return false
}

// ProviderError is a classified failure from an LLM provider. It implements
// Retryable and StatusCode, which is all the retry predicate looks at.
type ProviderError struct {
	Reason   Reason
	Provider string
	Model    string

	// Status is the HTTP status, zero when no response arrived.
	Status int

	// Code is the provider's own error type, e.g. overloaded_error.
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Provider, e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	switch {
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Cause != nil:
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool { return e.Reason.IsRetryable() }

// StatusCode returns the HTTP status, or 0 when the request never got one.
func (e *ProviderError) StatusCode() int { return e.Status }

// NewProviderError wraps cause, classifying it from its message.
func NewProviderError(provider, model string, cause error) *ProviderError {
	e := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: ReasonUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = ClassifyError(cause)
	}
	return e
}

// WithStatus records the HTTP status; a recognized status overrides the
// message-based classification.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := reasonForStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records the provider error type. Codes refine the reason except
// for server errors, where the status is authoritative.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason, ok := codeReasons[strings.ToLower(code)]; ok && e.Reason != ReasonServerError {
		e.Reason = reason
	}
	return e
}

// WithRequestID records the provider's request ID for support tickets.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage replaces the message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// messageRules are checked in order; the first rule with a matching phrase
// decides the reason.
var messageRules = []struct {
	reason  Reason
	phrases []string
}{
	{ReasonTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests", "429"}},
	{ReasonAuth, []string{"invalid_api_key", "authentication", "401", "403"}},
	{ReasonBilling, []string{"billing", "payment", "quota", "insufficient", "402"}},
	{ReasonContentFilter, []string{"content_filter", "content policy", "safety"}},
	{ReasonModelUnavailable, []string{"model not found", "model_not_found", "does not exist"}},
	{ReasonServerError, []string{"internal server", "server error", "overloaded", "500", "502", "503", "504"}},
	{ReasonNetwork, []string{"connection reset", "connection refused", "broken pipe", "no such host", "unexpected eof", "tls handshake"}},
}

// ClassifyError derives a reason from an error message.
func ClassifyError(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(msg, phrase) {
				return rule.reason
			}
		}
	}
	return ReasonUnknown
}

func reasonForStatus(status int) Reason {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ReasonAuth
	case http.StatusPaymentRequired:
		return ReasonBilling
	case http.StatusTooManyRequests:
		return ReasonRateLimit
	case http.StatusRequestTimeout:
		return ReasonTimeout
	case http.StatusBadRequest:
		return ReasonInvalidRequest
	case http.StatusNotFound:
		return ReasonModelUnavailable
	}
	if status >= 500 {
		return ReasonServerError
	}
	return ReasonUnknown
}

// codeReasons maps OpenAI and Anthropic error types.
var codeReasons = map[string]Reason{
	"rate_limit_error":         ReasonRateLimit,
	"rate_limit_exceeded":      ReasonRateLimit,
	"authentication_error":     ReasonAuth,
	"invalid_api_key":          ReasonAuth,
	"permission_error":         ReasonAuth,
	"billing_error":            ReasonBilling,
	"insufficient_quota":       ReasonBilling,
	"model_not_found":          ReasonModelUnavailable,
	"model_not_available":      ReasonModelUnavailable,
	"not_found_error":          ReasonModelUnavailable,
	"content_policy_violation": ReasonContentFilter,
	"content_filter":           ReasonContentFilter,
	"server_error":             ReasonServerError,
	"internal_error":           ReasonServerError,
	"api_error":                ReasonServerError,
	"overloaded_error":         ReasonServerError,
	"invalid_request_error":    ReasonInvalidRequest,
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
