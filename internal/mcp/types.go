// Package mcp connects to Model Context Protocol tool servers and exposes
// their tools through a single registry.
package mcp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// TransportType specifies the MCP transport protocol.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// ServerConfig holds configuration for an MCP server.
type ServerConfig struct {
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name" json:"name,omitempty"`
	Transport TransportType `yaml:"transport" json:"transport"`

	// Stdio transport options
	Command string            `yaml:"command" json:"command,omitempty"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir" json:"workdir,omitempty"`

	// HTTP transport options
	URL     string            `yaml:"url" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	OAuth   *OAuthConfig      `yaml:"oauth" json:"oauth,omitempty"`

	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// OAuthConfig enables the client-credentials grant for HTTP servers.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	Scopes       []string `yaml:"scopes" json:"scopes,omitempty"`
}

// Validate checks the server configuration for security issues.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server ID is required")
	}
	if strings.ContainsAny(c.ID, " /:") {
		return fmt.Errorf("server ID %q must not contain spaces, slashes or colons", c.ID)
	}

	switch c.Transport {
	case TransportStdio, "":
		if err := c.validateStdioConfig(); err != nil {
			return fmt.Errorf("stdio config for %s: %w", c.ID, err)
		}
	case TransportHTTP:
		if err := c.validateHTTPConfig(); err != nil {
			return fmt.Errorf("http config for %s: %w", c.ID, err)
		}
	default:
		return fmt.Errorf("server %s: unknown transport %q", c.ID, c.Transport)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("server %s: timeout must be non-negative", c.ID)
	}
	return nil
}

func (c *ServerConfig) validateStdioConfig() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if err := validatePath(c.Command, "command"); err != nil {
		return err
	}
	if c.WorkDir != "" {
		if err := validatePath(c.WorkDir, "workdir"); err != nil {
			return err
		}
	}
	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}
	return nil
}

func (c *ServerConfig) validateHTTPConfig() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("URL must be an absolute http:// or https:// URL")
	}
	if c.OAuth != nil {
		if c.OAuth.TokenURL == "" || c.OAuth.ClientID == "" {
			return fmt.Errorf("oauth requires token_url and client_id")
		}
	}
	return nil
}

func (c *ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// validatePath checks a path for traversal.
func validatePath(path, fieldName string) error {
	if path == "" {
		return nil
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}
	return nil
}

// containsShellMetachars flags patterns that suggest command chaining.
func containsShellMetachars(s string) bool {
	dangerousPatterns := []string{
		"$(", "${",
		"`",
		"&&", "||",
		";",
		"|",
		">", "<",
		"\n", "\r",
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// Tool is a tool advertised by an MCP server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCallResult holds the result of calling an MCP tool.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent holds a piece of content from a tool result.
type ToolResultContent struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Text flattens the result for the model. All-text results are joined with
// newlines; anything else is returned as the JSON encoding of the result.
func (r *ToolCallResult) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	allText := true
	var combined strings.Builder
	for _, item := range r.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		if item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}
	if allText {
		return combined.String()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(payload)
}

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is a JSON-RPC 2.0 notification (no ID).
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP-specific error codes
const (
	ErrCodeToolNotFound = -32002
)

// ServerInfo holds information about an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult holds the result of the initialize method.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ListToolsResult holds one page of tools/list.
type ListToolsResult struct {
	Tools      []*Tool `json:"tools"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}
