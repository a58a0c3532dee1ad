package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/pkg/models"
)

// maxToolNameLen is the longest tool name LLM providers accept.
const maxToolNameLen = 64

// Config holds the MCP manager configuration.
type Config struct {
	Enabled bool            `yaml:"enabled"`
	Servers []*ServerConfig `yaml:"servers"`
}

// Validate checks every server and rejects duplicate IDs.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s == nil {
			return fmt.Errorf("mcp server entry is empty")
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate mcp server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

type toolRef struct {
	serverID string
	name     string
}

// Manager manages MCP server connections and exposes their tools as one
// registry. Tool names are unique across servers: when two servers offer the
// same name, the later one is exposed as "<server>_<tool>".
type Manager struct {
	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	index   map[string]toolRef
	defs    []models.ToolDefinition

	newClient func(*ServerConfig, *slog.Logger) *Client
}

// NewManager creates a new MCP manager.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	return &Manager{
		config:    cfg,
		logger:    logger.With("component", "mcp"),
		clients:   make(map[string]*Client),
		index:     make(map[string]toolRef),
		newClient: NewClient,
	}
}

// Start connects to all configured servers. Servers that fail to connect are
// logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Debug("MCP disabled")
		return nil
	}

	var wg sync.WaitGroup
	for _, serverCfg := range m.config.Servers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Connect(ctx, id); err != nil {
				m.logger.Error("failed to connect to MCP server", "server", id, "error", err)
			}
		}(serverCfg.ID)
	}
	wg.Wait()
	return nil
}

// Stop disconnects from all MCP servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client", "server", id, "error", err)
		}
		delete(m.clients, id)
	}
	m.rebuildLocked()
	return nil
}

// Connect connects to a specific MCP server by ID.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	var serverCfg *ServerConfig
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			serverCfg = cfg
			break
		}
	}
	if serverCfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	m.mu.RLock()
	_, exists := m.clients[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := m.newClient(serverCfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	m.rebuildLocked()
	m.mu.Unlock()
	return nil
}

// Disconnect disconnects from a specific MCP server.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[serverID]
	if !exists {
		return nil
	}
	delete(m.clients, serverID)
	m.rebuildLocked()
	if err := client.Close(); err != nil {
		return err
	}
	m.logger.Info("disconnected from MCP server", "server", serverID)
	return nil
}

// Client returns a client for a specific server.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// ListTools returns the tools of all connected servers, refreshing servers
// that announced a changed tool list.
func (m *Manager) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	m.mu.RLock()
	var stale []*Client
	for _, client := range m.clients {
		if client.Stale() {
			stale = append(stale, client)
		}
	}
	m.mu.RUnlock()

	if len(stale) > 0 {
		for _, client := range stale {
			if err := client.RefreshTools(ctx); err != nil {
				m.logger.Warn("failed to refresh tools", "server", client.Config().ID, "error", err)
			}
		}
		m.mu.Lock()
		m.rebuildLocked()
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ToolDefinition(nil), m.defs...), nil
}

// CallTool invokes a tool by its exposed name.
func (m *Manager) CallTool(ctx context.Context, name string, args json.RawMessage) (*agent.ToolOutput, error) {
	m.mu.RLock()
	ref, ok := m.index[name]
	var client *Client
	if ok {
		client = m.clients[ref.serverID]
	}
	m.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%w: %s", agent.ErrToolNotFound, name)
	}

	result, err := client.CallTool(ctx, ref.name, args)
	if err != nil {
		return nil, err
	}
	return &agent.ToolOutput{Content: result.Text(), IsError: result.IsError}, nil
}

// ServerStatus describes one configured server.
type ServerStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Connected bool   `json:"connected"`
	Tools     int    `json:"tools"`
}

// Status reports every configured server in config order.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.config.Servers))
	for _, cfg := range m.config.Servers {
		st := ServerStatus{ID: cfg.ID, Name: cfg.Name}
		if client, ok := m.clients[cfg.ID]; ok {
			st.Connected = client.Connected()
			st.Tools = len(client.Tools())
			if st.Name == "" {
				st.Name = client.ServerInfo().Name
			}
		}
		out = append(out, st)
	}
	return out
}

// rebuildLocked recomputes exposed names in config order so names are stable
// across restarts.
func (m *Manager) rebuildLocked() {
	index := make(map[string]toolRef)
	var defs []models.ToolDefinition
	for _, cfg := range m.config.Servers {
		client, ok := m.clients[cfg.ID]
		if !ok {
			continue
		}
		for _, tool := range client.Tools() {
			name := exposedName(cfg.ID, tool.Name, index)
			index[name] = toolRef{serverID: cfg.ID, name: tool.Name}
			defs = append(defs, models.ToolDefinition{
				Name:        name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
				ServerID:    cfg.ID,
			})
		}
	}
	m.index = index
	m.defs = defs
}

func exposedName(serverID, toolName string, used map[string]toolRef) string {
	candidates := []string{
		sanitizeToolPart(toolName),
		sanitizeToolPart(serverID) + "_" + sanitizeToolPart(toolName),
	}
	for _, c := range candidates {
		c = clip(c, maxToolNameLen)
		if _, taken := used[c]; !taken {
			return c
		}
	}
	base := candidates[1]
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		c := clip(base, maxToolNameLen-len(suffix)) + suffix
		if _, taken := used[c]; !taken {
			return c
		}
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sanitizeToolPart keeps letters, digits, hyphens and underscores.
func sanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-'):
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

var _ agent.ToolRegistry = (*Manager)(nil)
