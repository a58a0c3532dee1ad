package config

import (
	"time"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/backoff"
	"github.com/haasonsaas/conduit/internal/infra"
)

// OrchestratorConfig tunes the tool-calling loop.
type OrchestratorConfig struct {
	MaxIterations            int           `yaml:"max_iterations"`
	HeartbeatInterval        time.Duration `yaml:"heartbeat_interval"`
	ToolTimeout              time.Duration `yaml:"tool_timeout"`
	MaxToolResultBytes       int           `yaml:"max_tool_result_bytes"`
	MaxToolCallsPerIteration int           `yaml:"max_tool_calls_per_iteration"`
	CheckpointFlushTimeout   time.Duration `yaml:"checkpoint_flush_timeout"`

	// LLM and Tools guard model calls (breaker key "llm") and tool calls
	// (breaker key "tool:<server>").
	LLM   FaultConfig `yaml:"llm"`
	Tools FaultConfig `yaml:"tools"`
}

// FaultConfig is a retry policy composed with a circuit breaker.
type FaultConfig struct {
	// Retries after the first attempt. Unset uses the default; 0 disables retries.
	Retries *int                `yaml:"retries"`
	Backoff backoff.Policy      `yaml:"backoff"`
	Breaker infra.BreakerPolicy `yaml:"breaker"`
}

func (f FaultConfig) retryPolicy(def infra.RetryPolicy) infra.RetryPolicy {
	policy := def
	if f.Retries != nil {
		policy.Retries = *f.Retries
	}
	if f.Backoff.Base > 0 {
		policy.Backoff.Base = f.Backoff.Base
	}
	if f.Backoff.Max > 0 {
		policy.Backoff.Max = f.Backoff.Max
	}
	if f.Backoff.Factor > 0 {
		policy.Backoff.Factor = f.Backoff.Factor
	}
	if f.Backoff.Jitter > 0 {
		policy.Backoff.Jitter = f.Backoff.Jitter
	}
	return policy
}

func (f FaultConfig) breakerPolicy(def infra.BreakerPolicy) infra.BreakerPolicy {
	policy := def
	if f.Breaker.FailureThreshold > 0 {
		policy.FailureThreshold = f.Breaker.FailureThreshold
	}
	if f.Breaker.Window > 0 {
		policy.Window = f.Breaker.Window
	}
	if f.Breaker.OpenFor > 0 {
		policy.OpenFor = f.Breaker.OpenFor
	}
	return policy
}

// AgentConfig builds the orchestrator configuration.
func (c *Config) AgentConfig() *agent.Config {
	def := agent.DefaultConfig()
	o := c.Orchestrator
	return &agent.Config{
		MaxIterations:            o.MaxIterations,
		DefaultModel:             c.LLM.Model(),
		System:                   c.LLM.System,
		MaxTokens:                c.LLM.MaxTokens,
		LLMRetry:                 o.LLM.retryPolicy(def.LLMRetry),
		LLMBreaker:               o.LLM.breakerPolicy(def.LLMBreaker),
		ToolRetry:                o.Tools.retryPolicy(def.ToolRetry),
		ToolBreaker:              o.Tools.breakerPolicy(def.ToolBreaker),
		ToolTimeout:              o.ToolTimeout,
		MaxToolResultBytes:       o.MaxToolResultBytes,
		MaxToolCallsPerIteration: o.MaxToolCallsPerIteration,
		CheckpointFlushTimeout:   o.CheckpointFlushTimeout,
		HeartbeatInterval:        o.HeartbeatInterval,
	}
}

func applyOrchestratorDefaults(o *OrchestratorConfig) {
	def := agent.DefaultConfig()
	if o.MaxIterations == 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.ToolTimeout == 0 {
		o.ToolTimeout = def.ToolTimeout
	}
	if o.MaxToolResultBytes == 0 {
		o.MaxToolResultBytes = def.MaxToolResultBytes
	}
	if o.MaxToolCallsPerIteration == 0 {
		o.MaxToolCallsPerIteration = def.MaxToolCallsPerIteration
	}
	if o.CheckpointFlushTimeout == 0 {
		o.CheckpointFlushTimeout = def.CheckpointFlushTimeout
	}
}
