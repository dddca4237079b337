// Package main provides the CLI entry point for the drover agent runner.
//
// Drover runs autonomous agents against LLM providers (Anthropic, OpenAI)
// with bounded iteration budgets, gated tool execution, and automatic
// context compaction when an agent outgrows its window.
//
// # Basic Usage
//
// Run an agent on a task:
//
//	drover run --agent researcher "summarize the open issues"
//
// List configured agents:
//
//	drover agents
//
// # Environment Variables
//
//   - DROVER_CONFIG: Path to configuration file (default: drover.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "drover",
		Short: "Drover - autonomous agent runner",
		Long: `Drover runs autonomous AI agents with bounded budgets and gated tools.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)
Built-in tools: read_file, write_file, shell, fetch, memory_get, memory_set`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildAgentsCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the DROVER_CONFIG fallback when no flag is set.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("DROVER_CONFIG"); env != "" {
		return env
	}
	return "drover.yaml"
}
