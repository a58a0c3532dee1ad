// Package providers adapts LLM vendor APIs to agent.LLMProvider.
//
// Providers stream text, tool-call fragments, the finish reason and token
// usage as agent.CompletionChunk values. They never retry: the orchestrator
// wraps every call in its own retry and circuit breaker, and classifies
// failures through ProviderError.Retryable and ProviderError.StatusCode.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/conduit/internal/agent"
)

// Config selects and configures a provider.
type Config struct {
	// Name is "openai" or "anthropic". OpenAI-compatible endpoints use
	// "openai" with a BaseURL.
	Name string

	APIKey       string
	BaseURL      string
	DefaultModel string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// New builds the provider named by cfg.Name.
func New(cfg Config) (agent.LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "openai", "":
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			HTTPClient:   cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "anthropic":
		p, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			HTTPClient:   cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
