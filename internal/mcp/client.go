package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// maxToolPages bounds tools/list pagination.
const maxToolPages = 100

// Client is an MCP client that connects to a single server.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*Tool
	serverInfo ServerInfo

	// stale is set when the server announces its tool list changed.
	stale atomic.Bool
}

// NewClient creates a new MCP client.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return newClient(cfg, NewTransport(cfg, logger), logger)
}

func newClient(cfg *ServerConfig, transport Transport, logger *slog.Logger) *Client {
	return &Client{
		config:    cfg,
		transport: transport,
		logger:    logger.With("mcp_server", cfg.ID),
	}
}

// Connect performs the initialize handshake and loads the tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "conduit",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()
	c.logger.Info("connected to MCP server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if n, ok := c.transport.(notifier); ok {
		n.OnNotification(c.handleNotification)
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn("failed to list tools", "error", err)
		c.stale.Store(true)
	}
	return nil
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected returns whether the client is connected.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Stale reports whether the cached tool list needs a refresh.
func (c *Client) Stale() bool {
	return c.stale.Load()
}

// RefreshTools reloads the tool list, following pagination cursors.
func (c *Client) RefreshTools(ctx context.Context) error {
	var tools []*Tool
	cursor := ""
	for page := 0; page < maxToolPages; page++ {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		result, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return err
		}
		var resp ListToolsResult
		if err := json.Unmarshal(result, &resp); err != nil {
			return fmt.Errorf("parse tools/list result: %w", err)
		}
		for _, tool := range resp.Tools {
			if tool != nil && tool.Name != "" {
				tools = append(tools, tool)
			}
		}
		if resp.NextCursor == "" || resp.NextCursor == cursor {
			break
		}
		cursor = resp.NextCursor
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	c.stale.Store(false)
	c.logger.Debug("refreshed tools", "count", len(tools))
	return nil
}

// Tools returns the cached tools.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Tool(nil), c.tools...)
}

// CallTool calls a tool on the MCP server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	params := CallToolParams{Name: name}
	if len(arguments) > 0 {
		params.Arguments = arguments
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &callResult, nil
}

func (c *Client) handleNotification(n *JSONRPCNotification) {
	switch n.Method {
	case "notifications/tools/list_changed":
		c.stale.Store(true)
		c.logger.Debug("tool list changed")
	default:
		c.logger.Debug("ignoring notification", "method", n.Method)
	}
}
