// Package main provides the CLI entry point for agentgated, the local
// agent control-plane gateway.
//
// agentgated multiplexes WebSocket-connected operators and nodes over a
// single long-lived process, running tool-using LLM agent runs behind a
// Safety Gate and an Approval Store.
//
// # Basic Usage
//
// Start the gateway:
//
//	agentgated serve --config agentgate.yaml
//
// Validate a configuration file without starting anything:
//
//	agentgated config validate --config agentgate.yaml
//
// Inspect the current approval policy document:
//
//	agentgated approvals show --config agentgate.yaml
//
// # Environment Variables
//
//   - AGENTGATE_HOST, AGENTGATE_PORT, AGENTGATE_AUTH_TOKEN override the
//     corresponding gateway.* config fields.
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY override the matching provider's
//     api_key when that provider is configured.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentgated",
		Short: "agentgated - local agent control-plane gateway",
		Long: `agentgated multiplexes WebSocket-connected operators and nodes over a
single long-lived process, running tool-using LLM agent runs behind a
Safety Gate and an Approval Store.`,
		Version:      version + " (commit: " + commit + ", built: " + date + ")",
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildApprovalsCmd(),
		buildPairingCmd(),
	)
	return root
}

// resolveConfigPath applies the same fallback the teacher uses: an explicit
// flag wins, otherwise AGENTGATE_CONFIG, otherwise the current directory's
// default file name.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("AGENTGATE_CONFIG"); v != "" {
		return v
	}
	return "agentgate.yaml"
}
