// Package main is the entry point for the changewatch CLI.
//
// Usage:
//
//	changewatch run                      # Watch the resources in MONITORS_FILE
//	changewatch run -c monitors.yaml     # Watch the resources in monitors.yaml
//	changewatch validate -c monitors.yaml
//	changewatch check https://example.com/changelog
//	changewatch version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "changewatch",
	Short: "Watch web resources and report content changes",
	Long: `changewatch polls web resources on a schedule, reduces each response
to the content that matters (raw body, visible text, article, feed items or a
CSS selector), and reports when that content changes.

Checks run on a bounded worker pool behind a per-resource circuit breaker
and an adaptive rate limiter. Changes are sent to Slack and Discord webhooks
and exposed on the health and metrics listeners.

Example monitors file:
  defaults:
    interval: 10m
  monitors:
    - name: Go release notes
      url: https://go.dev/doc/devel/release
      extractor: article
    - name: Status feed
      url: https://status.example.com/history.atom
      extractor: feed
      interval: 1m`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "changewatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
