package config

import (
	"os"
	"strings"

	"github.com/haasonsaas/conduit/internal/agent/providers"
	"github.com/haasonsaas/conduit/internal/usage"
)

// LLMConfig selects the model provider.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// System is the system prompt sent with every request.
	System string `yaml:"system"`

	// MaxTokens limits each model response.
	MaxTokens int `yaml:"max_tokens"`

	// Pricing overrides per-million-token prices by model name or prefix.
	Pricing map[string]usage.Cost `yaml:"pricing"`
}

// LLMProviderConfig configures one provider. OpenAI-compatible endpoints
// use the openai provider with a base_url.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ProviderConfig returns the settings for the default provider. An unset
// api_key falls back to <PROVIDER>_API_KEY from the environment.
func (c LLMConfig) ProviderConfig() providers.Config {
	p := c.Providers[c.DefaultProvider]
	model := p.DefaultModel
	if model == "" {
		model = c.DefaultModel
	}
	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(strings.ToUpper(c.DefaultProvider) + "_API_KEY")
	}
	return providers.Config{
		Name:         c.DefaultProvider,
		APIKey:       apiKey,
		BaseURL:      p.BaseURL,
		DefaultModel: model,
	}
}

// PricingTable merges configured prices over the built-in list.
func (c LLMConfig) PricingTable() usage.Pricing {
	table := usage.DefaultPricing()
	for model, cost := range c.Pricing {
		table[model] = cost
	}
	return table
}

// Model returns the model used when a turn does not name one.
func (c LLMConfig) Model() string {
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	return c.Providers[c.DefaultProvider].DefaultModel
}

func applyLLMDefaults(c *LLMConfig) {
	if c.DefaultProvider == "" {
		c.DefaultProvider = "openai"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}
