package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Registry holds the built-in tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := tool.Name()
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// ListTools returns definitions for every registered tool.
func (r *Registry) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, models.ToolDefinition{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs, nil
}

// CallTool executes a built-in tool.
func (r *Registry) CallTool(ctx context.Context, name string, args json.RawMessage) (*agent.ToolOutput, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrToolNotFound, name)
	}
	return tool.Execute(ctx, args)
}

type route struct {
	source agent.ToolRegistry
	schema json.RawMessage
}

// Composite merges several registries into one namespace. When two sources
// expose the same name the earlier source wins.
type Composite struct {
	sources  []agent.ToolRegistry
	validate bool
	logger   *slog.Logger

	mu     sync.RWMutex
	routes map[string]route
}

// CompositeOption customizes a Composite.
type CompositeOption func(*Composite)

// WithValidation checks arguments against each tool's schema before calling it.
func WithValidation(enabled bool) CompositeOption {
	return func(c *Composite) { c.validate = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CompositeOption {
	return func(c *Composite) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewComposite builds a registry over sources, in priority order.
func NewComposite(sources []agent.ToolRegistry, opts ...CompositeOption) *Composite {
	c := &Composite{
		logger: slog.Default(),
		routes: make(map[string]route),
	}
	for _, src := range sources {
		if src != nil {
			c.sources = append(c.sources, src)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tools")
	return c
}

// ListTools lists every source. A failing source is skipped; the call fails
// only when every source fails.
func (c *Composite) ListTools(ctx context.Context) ([]models.ToolDefinition, error) {
	var (
		defs   []models.ToolDefinition
		errs   []error
		routes = make(map[string]route)
	)
	for _, src := range c.sources {
		listed, err := src.ListTools(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.logger.Warn("tool source unavailable", "error", err)
			errs = append(errs, err)
			continue
		}
		for _, def := range listed {
			if _, taken := routes[def.Name]; taken {
				c.logger.Warn("duplicate tool name ignored", "tool", def.Name, "server_id", def.ServerID)
				continue
			}
			routes[def.Name] = route{source: src, schema: def.Parameters}
			defs = append(defs, def)
		}
	}
	if len(errs) > 0 && len(errs) == len(c.sources) {
		return nil, fmt.Errorf("list tools: %w", errors.Join(errs...))
	}

	c.mu.Lock()
	c.routes = routes
	c.mu.Unlock()
	return defs, nil
}

func (c *Composite) lookup(name string) (route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[name]
	return r, ok
}

// CallTool routes a call to the source that listed name.
func (c *Composite) CallTool(ctx context.Context, name string, args json.RawMessage) (*agent.ToolOutput, error) {
	r, ok := c.lookup(name)
	if !ok {
		if _, err := c.ListTools(ctx); err != nil {
			return nil, err
		}
		if r, ok = c.lookup(name); !ok {
			return nil, fmt.Errorf("%w: %s", agent.ErrToolNotFound, name)
		}
	}

	if c.validate {
		if err := ValidateArgs(name, r.schema, args); err != nil {
			if !errors.Is(err, ErrSchemaUnusable) {
				return nil, err
			}
			c.logger.Debug("skipping argument validation", "tool", name, "error", err)
		}
	}
	return r.source.CallTool(ctx, name, args)
}

var (
	_ agent.ToolRegistry = (*Registry)(nil)
	_ agent.ToolRegistry = (*Composite)(nil)
)
