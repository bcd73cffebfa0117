// Package main provides the CLI entry point for arawnd, the
// agent-runtime-core process: one Session/Turn loop (internal/agent),
// speaking the bidirectional streaming transport (internal/gateway)
// over a single socket, with no multi-channel messaging, no YAML
// config loader, and no control-plane RPC surface.
//
// # Basic usage
//
//	arawnd serve
//	arawnd doctor
//
// # Environment variables
//
// There is no config file loader (out of scope, see SPEC_FULL.md §1);
// every setting below has a documented default and can be overridden
// by environment variable:
//
//   - ARAWN_ADDR: HTTP listen address for the gateway (default ":8099")
//   - ARAWN_WORKSPACE: workspace root for bootstrap files and the exec/
//     files tools (default ".")
//   - ARAWN_PROVIDER: "anthropic" or "openai" (default "anthropic")
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: provider credentials
//   - ARAWN_MODEL: default model id for the provider
//   - ARAWN_GATEWAY_SECRET: bearer-token secret for the Auth message;
//     empty disables authentication
//   - ARAWN_LOG_LEVEL: "debug", "info", "warn", "error" (default "info")
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
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arawnd",
		Short: "arawn - local-first agent runtime core",
		Long: `arawnd runs one agent runtime core: a turn-oriented Session/Turn
loop over a pluggable LLM provider, with native tools, MCP adapters,
subagent delegation, orchestrated compaction, and a durable interaction
log, exposed over a single bidirectional streaming socket.`,
		Version: version,
	}

	rootCmd.AddCommand(buildServeCmd(), buildDoctorCmd())
	return rootCmd
}
