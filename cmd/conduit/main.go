// Package main provides the CLI entry point for conduit, a tool-calling LLM
// orchestration service.
//
// # Basic Usage
//
// Start the server:
//
//	conduit serve --config conduit.yaml
//
// Run one turn from the terminal:
//
//	conduit run "What time is it in Tokyo?"
//	echo "Summarize https://example.com" | conduit run --json
//
// # Environment Variables
//
//   - CONDUIT_CONFIG: Path to configuration file (default: conduit.yaml)
//   - OPENAI_API_KEY: OpenAI API key when llm.providers.openai.api_key is unset
//   - ANTHROPIC_API_KEY: Anthropic API key when llm.providers.anthropic.api_key is unset
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	_ "time/tzdata" // zoneinfo for current_time on hosts without one

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conduit/internal/config"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "conduit.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "conduit - tool-calling LLM orchestration",
		Long: `conduit drives conversations between clients and LLM providers that call
tools mid-conversation, under role-based access control and spend budgets,
and streams every step back to the client.

Supported LLM providers: OpenAI (and compatible endpoints), Anthropic
Tool sources: built-in tools, MCP servers`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"Load environment variables from these files (default: .env when present)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildConfigCmd(),
		buildToolsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies CONDUIT_CONFIG when the flag was not set.
func resolveConfigPath(cmd *cobra.Command, path string) string {
	if !cmd.Flags().Changed("config") {
		if env := strings.TrimSpace(os.Getenv("CONDUIT_CONFIG")); env != "" {
			return env
		}
	}
	return path
}

// loadConfig loads path. A missing default config falls back to built-in
// defaults so one-off commands work without a file.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	path = resolveConfigPath(cmd, path)
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		slog.Debug("no config file; using defaults", "path", path)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "Path to YAML, JSON or JSON5 configuration file")
}
