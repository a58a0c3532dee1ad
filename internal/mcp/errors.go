package mcp

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConnected is returned by transports used before Connect or after Close.
var ErrNotConnected = errors.New("mcp: not connected")

// RPCError is a JSON-RPC error returned by a server.
type RPCError struct {
	ServerID string
	Method   string
	Code     int
	Message  string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp %s: %s failed (%d): %s", e.ServerID, e.Method, e.Code, e.Message)
}

// StatusCode maps the JSON-RPC code onto an HTTP status so callers can
// classify it without knowing JSON-RPC.
func (e *RPCError) StatusCode() int {
	switch e.Code {
	case ErrCodeInvalidParams:
		return http.StatusBadRequest
	case ErrCodeMethodNotFound, ErrCodeToolNotFound:
		return http.StatusNotFound
	case ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// HTTPError is a non-200 response from an HTTP server.
type HTTPError struct {
	ServerID string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mcp %s: HTTP %d: %s", e.ServerID, e.Status, e.Body)
}

// StatusCode returns the HTTP status.
func (e *HTTPError) StatusCode() int { return e.Status }
