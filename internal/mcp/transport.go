package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
)

// protocolVersion is the MCP revision this client speaks.
const protocolVersion = "2025-03-26"

// Transport carries JSON-RPC messages to one server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected returns whether the transport is connected.
	Connected() bool
}

// notifier is implemented by transports that receive server notifications.
type notifier interface {
	OnNotification(fn func(*JSONRPCNotification))
}

// NewTransport creates a transport for the server configuration.
func NewTransport(cfg *ServerConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Transport {
	case TransportHTTP:
		return NewHTTPTransport(cfg, logger)
	default:
		return NewStdioTransport(cfg, logger)
	}
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}
