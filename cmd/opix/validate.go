package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/opix/config"
)

// validateCmd validates a config file without sending anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an opix configuration file without sending anything.

This command parses the YAML, expands environment variables, applies
OPIX_* overrides, and validates all fields. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  opix validate -c opix.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	trackerID := cfg.TrackerID
	if trackerID == "" {
		trackerID = "(set by init)"
	}
	beacon := "on"
	if b := cfg.Transport.Beacon.Enabled; b != nil && !*b {
		beacon = "off"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Endpoint:  %s (%s)\n", cfg.Endpoint, cfg.Format)
	fmt.Printf("  Function:  %s v%s\n", cfg.FunctionName, cfg.Version)
	fmt.Printf("  Tracker:   %s\n", trackerID)
	fmt.Printf("  Identity:  %s\n", cfg.Identity.Driver)
	fmt.Printf("  Beacon:    %s\n", beacon)

	return nil
}
