package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/subtrack"
	"github.com/jpalmerr/subtrack/config"
)

const (
	// shutdownTimeout is a backstop over the SDK's own drain timeout.
	shutdownTimeout = 15 * time.Second
)

// serveCmd starts tracking and serves the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start tracking and serve the API",
	Long: `Start the subtrack server.

The server will:
  - Load configuration from the specified YAML file
  - Start tracking every configured subreddit
  - Serve the JSON API, live stream and metrics on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM. Queued
posts are drained for up to 10 seconds before exit.

Example:
  subtrack serve -c config.yaml
  subtrack serve --config /etc/subtrack/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := config.NewLogger(cfg, os.Stderr)

	logger.Info("config loaded",
		"subreddits", len(cfg.Subreddits),
		"authenticated", cfg.Reddit.AccessToken != "",
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	opts := append(config.BuildOptions(cfg), subtrack.WithLogger(logger))
	st, err := subtrack.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create subtrack: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- st.Start(ctx)
	}()

	// wait for server to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
