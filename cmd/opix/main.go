// Package main is the entry point for the opix CLI.
//
// The opix package is normally embedded as a library. This CLI drives it from
// YAML configuration for local development and debugging.
//
// Usage:
//
//	opix collect --addr :8080             # Run the development collector
//	opix send -c opix.yaml -e signup      # Simulate one page visit
//	opix replay -c opix.yaml -f visit.yaml # Replay recorded invocations
//	opix validate -c opix.yaml            # Validate configuration
//	opix version                          # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "opix",
	Short: "A page telemetry client and development collector",
	Long: `opix collects page events, enriches them with page and visitor
attributes, and delivers them to a collection endpoint.

Quick start:
  1. Run the development collector: opix collect --addr :8080
  2. Create a config file (opix.yaml)
  3. Run: opix send -c opix.yaml -e signup
  4. Open http://localhost:8080 to watch events arrive

Example config:
  endpoint: http://localhost:8080/collect
  tracker_id: SITE-123
  page:
    url: https://shop.example.com/?utm_source=news
    title: Shop`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this opix binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opix %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
