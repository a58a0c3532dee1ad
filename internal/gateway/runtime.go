package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/providers"
	"github.com/haasonsaas/conduit/internal/auth"
	"github.com/haasonsaas/conduit/internal/budget"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/infra"
	"github.com/haasonsaas/conduit/internal/mcp"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/sessions"
	"github.com/haasonsaas/conduit/internal/tools"
	"github.com/haasonsaas/conduit/internal/tools/policy"
	"github.com/haasonsaas/conduit/internal/tools/system"
	"github.com/haasonsaas/conduit/internal/tools/webfetch"
	"github.com/haasonsaas/conduit/internal/usage"
)

// Runtime is the wired orchestrator and the collaborators it owns.
type Runtime struct {
	Config       *config.Config
	Orchestrator *agent.Orchestrator
	Policy       *PolicyHolder
	Auth         *auth.Service
	Tools        *tools.Composite
	MCP          *mcp.Manager
	Store        sessions.Store
	Tracker      *usage.Tracker
	Metrics      *observability.Metrics

	// MetricsHandler is nil when metrics are disabled.
	MetricsHandler http.Handler

	resetter      *budget.Resetter
	traceShutdown func(context.Context) error
	logger        *slog.Logger
}

// RuntimeOptions overrides pieces of the runtime, mainly for tests.
type RuntimeOptions struct {
	// Provider replaces the configured LLM provider.
	Provider agent.LLMProvider

	// Registry receives the metrics. Nil uses a fresh registry with the Go
	// and process collectors.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// NewRuntime builds the orchestrator from cfg. Unreachable MCP servers are
// skipped; a store or provider that cannot be built is an error.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (rt *Runtime, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt = &Runtime{
		Config:        cfg,
		Auth:          auth.NewService(cfg.Auth),
		logger:        logger,
		traceShutdown: func(context.Context) error { return nil },
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background()) //nolint:errcheck
			rt = nil
		}
	}()

	engine, err := policy.NewEngine(cfg.Policy)
	if err != nil {
		return rt, fmt.Errorf("policy: %w", err)
	}
	rt.Policy = NewPolicyHolder(engine)

	provider := opts.Provider
	if provider == nil {
		provider, err = providers.New(cfg.LLM.ProviderConfig())
		if err != nil {
			return rt, fmt.Errorf("llm provider: %w", err)
		}
	}

	if config.Enabled(cfg.Observability.Metrics.Enabled) {
		reg := opts.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		rt.Metrics = observability.NewMetricsWith(reg)
		rt.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	tracer, shutdown := observability.NewTracer(cfg.Observability.Tracing)
	rt.traceShutdown = shutdown

	rt.Store, err = sessions.Open(ctx, cfg.Sessions.StoreConfig())
	if err != nil {
		return rt, fmt.Errorf("sessions: %w", err)
	}

	rt.Tracker = usage.NewTracker(usage.DefaultTrackerConfig())
	recorder := usage.NewRecorder(rt.Tracker, cfg.LLM.PricingTable(), cfg.LLM.DefaultProvider)

	var evaluator agent.BudgetEvaluator
	if len(cfg.Budget.Limits) > 0 {
		ev, err := budget.NewEvaluator(rt.Tracker, cfg.Budget.Limits)
		if err != nil {
			return rt, fmt.Errorf("budget: %w", err)
		}
		evaluator = ev
		rt.resetter, err = budget.NewResetter(rt.Tracker, cfg.Budget.ResetSchedule, cfg.Budget.Timezone, logger)
		if err != nil {
			return rt, fmt.Errorf("budget: %w", err)
		}
		rt.resetter.Start()
	}

	builtin, err := builtinTools(cfg.Tools, rt.Tracker)
	if err != nil {
		return rt, err
	}
	sources := []agent.ToolRegistry{builtin}
	if cfg.MCP.Enabled {
		rt.MCP = mcp.NewManager(&cfg.MCP, logger)
		if err := rt.MCP.Start(ctx); err != nil {
			return rt, fmt.Errorf("mcp: %w", err)
		}
		sources = append(sources, rt.MCP)
	}
	rt.Tools = tools.NewComposite(sources,
		tools.WithValidation(config.Enabled(cfg.Tools.ValidateArgs)),
		tools.WithLogger(logger),
	)

	rt.Orchestrator, err = agent.NewOrchestrator(agent.Options{
		Provider:    provider,
		Registry:    rt.Tools,
		Policy:      rt.Policy,
		Checkpoints: rt.Store,
		Budget:      evaluator,
		Usage:       recorder,
		Breakers:    infra.DefaultBreakers,
		Logger:      logger,
		Metrics:     rt.Metrics,
		Tracer:      tracer,
		Config:      cfg.AgentConfig(),
	})
	if err != nil {
		return rt, err
	}
	return rt, nil
}

func builtinTools(cfg config.ToolsConfig, tracker *usage.Tracker) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	var list []tools.Tool
	if config.Enabled(cfg.CurrentTime.Enabled) {
		list = append(list, system.NewTimeTool(cfg.CurrentTime.Timezone))
	}
	if config.Enabled(cfg.SessionUsage.Enabled) {
		list = append(list, system.NewUsageTool(tracker))
	}
	if cfg.WebFetch.Enabled {
		list = append(list, webfetch.New(webfetch.Config{
			MaxChars:     cfg.WebFetch.MaxChars,
			MaxBytes:     cfg.WebFetch.MaxBytes,
			Timeout:      cfg.WebFetch.Timeout,
			AllowPrivate: cfg.WebFetch.AllowPrivate,
		}))
	}
	for _, tool := range list {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return registry, nil
}

// ServerOptions returns gateway options serving this runtime.
func (rt *Runtime) ServerOptions() Options {
	s := rt.Config.Server
	opts := Options{
		Addr:              s.Addr(),
		Engine:            rt.Orchestrator,
		Metrics:           rt.Metrics,
		MaxBodyBytes:      s.MaxBodyBytes,
		ReadHeaderTimeout: s.ReadHeaderTimeout,
		ShutdownTimeout:   s.ShutdownTimeout,
		TurnTimeout:       s.TurnTimeout,
		Logger:            rt.logger,
	}
	if rt.Auth.Enabled() || rt.Auth.Required() {
		opts.Auth = rt.Auth
	}
	if rt.MetricsHandler != nil {
		opts.MetricsPath = s.MetricsPath
		opts.MetricsHandler = rt.MetricsHandler
	}
	return opts
}

// Close releases everything the runtime opened.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.resetter != nil {
		rt.resetter.Stop()
	}
	if rt.MCP != nil {
		if err := rt.MCP.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.traceShutdown != nil {
		if err := rt.traceShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
