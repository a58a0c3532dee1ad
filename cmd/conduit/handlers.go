package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/gateway"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/stream"
	"github.com/haasonsaas/conduit/pkg/models"
)

// runServe loads the config, wires the runtime and serves until a signal.
func runServe(cmd *cobra.Command, configPath string, debug, watch bool) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	logCfg := cfg.Observability.Logging
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting conduit",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.LLM.DefaultProvider,
		"sessions", cfg.Sessions.Backend,
	)

	rt, err := gateway.NewRuntime(ctx, cfg, gateway.RuntimeOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Error("runtime shutdown error", "error", err)
		}
	}()

	server, err := gateway.New(rt.ServerOptions())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if _, statErr := os.Stat(configPath); watch && statErr == nil {
		reloader := gateway.NewReloader(rt.Policy, logger)
		watcher, err := config.Watch(ctx, configPath, config.DefaultWatchDebounce,
			func(next *config.Config) { _ = reloader.Apply(next) }, //nolint:errcheck
			reloader.OnError,
		)
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	logger.Info("listening", "addr", cfg.Server.Addr())
	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("conduit stopped gracefully")
	return nil
}

type runOptions struct {
	model         string
	session       string
	maxIterations int
	json          bool
}

// runTurn runs a single turn in-process and prints its events.
func runTurn(cmd *cobra.Command, cfg *config.Config, args []string, opts runOptions) error {
	message, err := turnMessage(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: "text",
		Output: cmd.ErrOrStderr(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No caller identity here, so the unauthenticated policy applies.
	cfg.Observability.Metrics.Enabled = new(bool)
	rt, err := gateway.NewRuntime(ctx, cfg, gateway.RuntimeOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background()) //nolint:errcheck

	turn := &agent.Turn{
		Messages:      []models.Message{{Role: models.RoleUser, Content: message}},
		SessionID:     opts.session,
		Model:         opts.model,
		MaxIterations: opts.maxIterations,
	}

	out := cmd.OutOrStdout()
	var sink agent.EventSink
	if opts.json || !isTerminal(out) {
		sink = stream.NewNDJSONWriter(out, logger)
	} else {
		sink = newEventPrinter(out)
	}

	outcome, err := rt.Orchestrator.Run(ctx, turn, sink)
	if err != nil {
		return err
	}
	// A turn cut off by the iteration limit exits non-zero.
	return outcome.Err()
}

// turnMessage joins args, or reads stdin when there are none and stdin is
// not a terminal.
func turnMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("message is required (pass it as an argument or on stdin)")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return "", errors.New("message is required (pass it as an argument or on stdin)")
	}
	return message, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// eventPrinter renders events for a human at a terminal.
type eventPrinter struct {
	mu       sync.Mutex
	w        io.Writer
	streamed bool
	midLine  bool
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{w: w}
}

func (p *eventPrinter) Emit(_ context.Context, e models.StreamEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case models.EventAssistantDelta:
		if e.Heartbeat || e.Delta == "" {
			return
		}
		fmt.Fprint(p.w, e.Delta)
		p.streamed = true
		p.midLine = !strings.HasSuffix(e.Delta, "\n")
	case models.EventToolStarted:
		if e.Tool == nil {
			return
		}
		p.newline()
		fmt.Fprintf(p.w, "> %s %s\n", e.Tool.Name, compactArgs(e.Tool.Args))
	case models.EventToolCompleted:
		if e.Tool == nil {
			return
		}
		duration := time.Duration(e.Tool.DurationMs) * time.Millisecond
		if e.Tool.Error != nil {
			fmt.Fprintf(p.w, "< %s %s (%s): %s\n", e.Tool.Name, e.Tool.Status, duration, e.Tool.Error.Message)
			return
		}
		fmt.Fprintf(p.w, "< %s %s (%s)\n", e.Tool.Name, e.Tool.Status, duration)
	case models.EventBudgetWarning, models.EventBudgetBlocked:
		if e.Budget == nil {
			return
		}
		p.newline()
		for _, b := range e.Budget.Breaches {
			fmt.Fprintf(p.w, "! budget %s: %s %s used %.4g of %.4g\n", e.Type, b.Scope, b.Metric, b.Used, b.Limit)
		}
	case models.EventFinal:
		if e.Final == nil {
			return
		}
		if !p.streamed && e.Final.Content != "" {
			fmt.Fprint(p.w, e.Final.Content)
			p.midLine = !strings.HasSuffix(e.Final.Content, "\n")
		}
		p.newline()
		summary := fmt.Sprintf("[%s, %d iterations", e.Final.Status, e.Final.Iterations)
		if u := e.Final.Usage; u != nil {
			summary += fmt.Sprintf(", %d in / %d out tokens", u.InputTokens, u.OutputTokens)
		}
		if e.Final.SessionID != "" {
			summary += ", session " + e.Final.SessionID
		}
		fmt.Fprintln(p.w, summary+"]")
	case models.EventError:
		if e.Error == nil {
			return
		}
		p.newline()
		fmt.Fprintf(p.w, "error: %s: %s\n", e.Error.Code, e.Error.Message)
	}
}

func (p *eventPrinter) newline() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

func compactArgs(args json.RawMessage) string {
	s := strings.Join(strings.Fields(string(args)), " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// runConfigValidate loads path and reports every validation issue.
func runConfigValidate(cmd *cobra.Command, path string) error {
	if _, err := config.Load(path); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
	return err
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(schema); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}

// offlineProvider lets tool listing build a runtime without provider
// credentials. It never completes a request.
type offlineProvider struct{}

func (offlineProvider) Name() string { return "offline" }

func (offlineProvider) Complete(context.Context, *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return nil, agent.ErrNoProvider
}

// runToolsList prints the tools visible to an unauthenticated caller.
func runToolsList(cmd *cobra.Command, cfg *config.Config, asJSON bool) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: "text",
		Output: cmd.ErrOrStderr(),
	})
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg.Observability.Metrics.Enabled = new(bool)
	rt, err := gateway.NewRuntime(ctx, cfg, gateway.RuntimeOptions{
		Provider: offlineProvider{},
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background()) //nolint:errcheck

	defs, err := rt.Orchestrator.ListTools(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if defs == nil {
			defs = []models.ToolDefinition{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	if len(defs) == 0 {
		_, err := fmt.Fprintln(out, "No tools available.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSERVER\tDESCRIPTION")
	for _, def := range defs {
		server := def.ServerID
		if server == "" {
			server = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, server, firstLine(def.Description))
	}
	return w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
