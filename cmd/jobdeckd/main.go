// Package main is the entry point for jobdeckd, the assistant daemon behind
// the jobdeck job-search product.
//
// The daemon accepts user messages over HTTP, drives LLM providers with tool
// calling, executes job-search tools through a durable queue, and pushes
// approval prompts and turn results to clients over websockets.
//
// # Basic Usage
//
// Start the server:
//
//	jobdeckd serve --config jobdeck.yaml
//
// # Environment Variables
//
//   - JOBDECK_CONFIG: Path to configuration file (default: jobdeck.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "jobdeckd",
		Short:         "jobdeck assistant daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jobdeckd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath applies the flag, then the environment, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("JOBDECK_CONFIG"); env != "" {
		return env
	}
	return "jobdeck.yaml"
}
