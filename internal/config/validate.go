package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/internal/tools/policy"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

var knownProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

var knownBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
	"s3":       true,
}

// Validate checks the configuration and returns a *ValidationError listing
// every issue.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	// A version mismatch makes every other field suspect.
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port must be between 0 and 65535")
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		add("server.metrics_path must start with /")
	}
	if c.Server.TurnTimeout < 0 {
		add("server.turn_timeout must be non-negative")
	}

	provider := strings.ToLower(strings.TrimSpace(c.LLM.DefaultProvider))
	if !knownProviders[provider] {
		add("llm.default_provider %q is not supported (use openai or anthropic)", c.LLM.DefaultProvider)
	}
	for name := range c.LLM.Providers {
		if !knownProviders[strings.ToLower(name)] {
			add("llm.providers.%s is not a supported provider", name)
		}
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must be non-negative")
	}

	if c.Orchestrator.MaxIterations < 1 {
		add("orchestrator.max_iterations must be at least 1")
	}
	if c.Orchestrator.ToolTimeout < 0 {
		add("orchestrator.tool_timeout must be non-negative")
	}
	faults := []struct {
		name string
		fc   FaultConfig
	}{{"llm", c.Orchestrator.LLM}, {"tools", c.Orchestrator.Tools}}
	for _, f := range faults {
		name, fc := f.name, f.fc
		if fc.Retries != nil && *fc.Retries < 0 {
			add("orchestrator.%s.retries must be non-negative", name)
		}
		if fc.Backoff.Jitter < 0 || fc.Backoff.Jitter > 1 {
			add("orchestrator.%s.backoff.jitter must be between 0 and 1", name)
		}
	}

	if c.Tools.CurrentTime.Timezone != "" {
		if _, err := time.LoadLocation(c.Tools.CurrentTime.Timezone); err != nil {
			add("tools.current_time.timezone: %v", err)
		}
	}

	if !knownBackends[c.Sessions.Backend] {
		add("sessions.backend %q is not supported (use memory, postgres, sqlite or s3)", c.Sessions.Backend)
	}
	switch c.Sessions.Backend {
	case "postgres":
		if strings.TrimSpace(c.Sessions.Postgres.DSN) == "" {
			add("sessions.postgres.dsn is required for the postgres backend")
		}
	case "s3":
		if strings.TrimSpace(c.Sessions.S3.Bucket) == "" {
			add("sessions.s3.bucket is required for the s3 backend")
		}
	}

	if err := c.MCP.Validate(); err != nil {
		add("mcp: %v", err)
	}

	for i, limit := range c.Budget.Limits {
		if err := limit.Validate(); err != nil {
			add("budget.limits[%d]: %v", i, err)
		}
	}
	if _, err := budget.ParseSchedule(c.Budget.ResetSchedule); err != nil {
		add("budget.reset_schedule: %v", err)
	}
	if _, err := time.LoadLocation(c.Budget.Timezone); err != nil {
		add("budget.timezone: %v", err)
	}

	if _, err := policy.NewEngine(c.Policy); err != nil {
		add("policy: %v", err)
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		add("auth.required needs auth.jwt_secret or auth.api_keys")
	}

	switch strings.ToLower(c.Observability.Logging.Format) {
	case "json", "text":
	default:
		add("observability.logging.format must be json or text")
	}
	switch strings.ToLower(c.Observability.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("observability.logging.level must be debug, info, warn or error")
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
