package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the HTTP gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conduit HTTP server",
		Long: `Start the conduit HTTP server.

Endpoints:
  POST /v1/turns           run a turn, streaming events as NDJSON
  GET  /v1/turns/ws        run a turn over a WebSocket (first frame is the turn)
  POST /v1/turns:complete  run a turn and return the outcome
  GET  /v1/tools           list the tools the caller may use
  GET  /healthz            liveness
  GET  /metrics            Prometheus metrics

Policy changes in the config file apply without a restart when --watch is set.
Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  conduit serve

  # Start with a custom config and a local .env file
  conduit serve --config /etc/conduit/production.yaml --env-file .env.local`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, resolveConfigPath(cmd, configPath), debug, watch)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload policy when the config file changes")
	return cmd
}

// buildRunCmd creates the "run" command that executes one turn locally.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		opts       runOptions
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one turn and print its events",
		Long: `Run one turn against the configured provider and tools without starting a
server. The message comes from the arguments, or from stdin when no
arguments are given.

On a terminal the assistant text streams as it arrives with one line per
tool call. Otherwise, or with --json, each event is printed as one JSON line.`,
		Example: `  conduit run "What time is it in Tokyo?"
  conduit run --session support-42 "And in Paris?"
  cat prompt.txt | conduit run --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runTurn(cmd, cfg, args, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model to use (default: llm.default_model)")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Session ID to resume or create")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Override orchestrator.max_iterations for this turn")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print events as NDJSON")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(cmd, configPath))
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect available tools",
	}

	var (
		configPath string
		asJSON     bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in and MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return runToolsList(cmd, cfg, asJSON)
		},
	}
	addConfigFlag(list, &configPath)
	list.Flags().BoolVar(&asJSON, "json", false, "Print tool definitions as JSON")
	cmd.AddCommand(list)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "conduit %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}
