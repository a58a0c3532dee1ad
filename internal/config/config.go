// Package config loads the conduit configuration from YAML, JSON or JSON5
// files with $include merging and ${ENV} expansion.
package config

import (
	"fmt"

	"github.com/haasonsaas/conduit/internal/auth"
	"github.com/haasonsaas/conduit/internal/mcp"
	"github.com/haasonsaas/conduit/internal/tools/policy"
)

// Config is the root configuration.
type Config struct {
	// Version is the config file format version. Unset means current.
	Version int `yaml:"version"`

	Server        ServerConfig        `yaml:"server"`
	Auth          auth.Config         `yaml:"auth"`
	Policy        policy.Config       `yaml:"policy"`
	LLM           LLMConfig           `yaml:"llm"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Tools         ToolsConfig         `yaml:"tools"`
	MCP           mcp.Config          `yaml:"mcp"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Budget        BudgetConfig        `yaml:"budget"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads path, resolves includes, applies defaults and validates.
func Load(path string) (*Config, error) {
	raw, err := readLayered(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeStrict(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied. It runs the
// orchestrator with the OpenAI provider and in-memory sessions.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLLMDefaults(&cfg.LLM)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyToolsDefaults(&cfg.Tools)
	applySessionsDefaults(&cfg.Sessions)
	applyBudgetDefaults(&cfg.Budget)
	applyObservabilityDefaults(&cfg.Observability)
	if cfg.Policy.Unauthenticated == "" {
		cfg.Policy.Unauthenticated = policy.ModeAllow
	}
}
