// Package main is the entry point for the subtrack CLI.
//
// Subtrack can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	subtrack serve -c config.yaml    # Start tracking and serve the API
//	subtrack validate -c config.yaml # Validate configuration
//	subtrack version                 # Show version info
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
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "subtrack",
	Short: "Live per-post stats for Reddit subreddits",
	Long: `Subtrack follows the newest posts of Reddit subreddits and keeps the
latest score and author of every post it has seen.

All subreddits share one rate-limit budget driven by Reddit's
x-ratelimit headers, so adding subreddits never outruns the API quota.

Quick start:
  1. Create a config file (subtrack.yaml)
  2. Run: subtrack serve -c subtrack.yaml
  3. Query http://localhost:8080/api/trackers

Example config:
  port: 8080
  poll_interval: 5s
  reddit:
    user_agent: "linux:myapp:v1.0 (by /u/me)"
  subreddits:
    - golang
    - rust`,
	SilenceUsage: true,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
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
	Long:  `Print the version, commit hash, and build date of this subtrack binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "subtrack %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
