package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/opix/config"
	"github.com/jpalmerr/opix/dashboard"
	"github.com/jpalmerr/opix/internal/collector"
	"github.com/jpalmerr/opix/internal/telemetry"
)

const (
	// shutdownGrace is how long collect waits after a signal for the server
	// to finish its own shutdown.
	shutdownGrace = 6 * time.Second
)

// collectCmd runs the development collector.
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the development collector",
	Long: `Run a local collection endpoint for development.

The collector will:
  - Accept pixel (GET) and document (POST) requests on /collect
  - Validate each event against the protocol schema
  - Keep the most recent events in memory
  - Serve a live event page on /

The collector runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  opix collect --addr :8080
  opix collect --addr 127.0.0.1:9000 --capacity 5000 --title "staging events"`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().String("addr", ":8080", "listen address")
	collectCmd.Flags().Int("capacity", collector.DefaultCapacity, "number of events kept in memory")
	collectCmd.Flags().String("title", "", "event page title")
	collectCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	collectCmd.Flags().String("log-format", "json", "log format (text, json)")
}

func runCollect(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	capacity, _ := cmd.Flags().GetInt("capacity")
	title, _ := cmd.Flags().GetString("title")
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")

	if capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	logger := newLogger(os.Stderr, config.LogConfig{Level: level, Format: format})

	validator, err := collector.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to load event schema: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "opix-collector", version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	srv := collector.NewServer(collector.NewMemoryStore(capacity), validator, addr, dashboard.Assets, title, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}

	fmt.Printf("Collecting on http://%s%s\n", srv.Addr(), collector.IngestPath)

	<-ctx.Done()
	logger.Info("shutting down")

	select {
	case <-srv.Done():
		logger.Info("shutdown complete")
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown timed out",
			"timeout", shutdownGrace.String(),
			"action", "forcing exit",
		)
	}
	return nil
}
