package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/subtrack/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a subtrack configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  subtrack validate -c config.yaml
  subtrack validate --config /etc/subtrack/config.yaml`,
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

	workers := "one per CPU"
	if cfg.Workers > 0 {
		workers = fmt.Sprintf("%d", cfg.Workers)
	}
	queue := "unbounded"
	if cfg.Queue.Capacity > 0 {
		overflow := cfg.Queue.Overflow
		if overflow == "" {
			overflow = "block"
		}
		queue = fmt.Sprintf("%d (%s)", cfg.Queue.Capacity, overflow)
	}
	subreddits := "none"
	if len(cfg.Subreddits) > 0 {
		subreddits = strings.Join(cfg.Subreddits, ", ")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Workers:       %s\n", workers)
	fmt.Fprintf(out, "  Queue:         %s\n", queue)
	fmt.Fprintf(out, "  Subreddits:    %s\n", subreddits)

	return nil
}
