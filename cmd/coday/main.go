// Package main provides the CLI entry point for the Coday conversation server.
//
// Coday mediates conversations between human users and AI provider agents
// (Anthropic, OpenAI, Venice), equipping them with tools and MCP servers and
// persisting every exchange as a reviewable, resumable thread.
//
// # Basic Usage
//
// Start the server:
//
//	coday serve --config coday.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coday",
		Short: "Coday - multi-user AI conversation server",
		Long: `Coday mediates conversations between human users and AI provider agents,
equipping them with tools and MCP servers and persisting every exchange as a
reviewable, resumable thread.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildProvidersCmd())
	return rootCmd
}
