package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/opix"
	"github.com/jpalmerr/opix/config"
	"github.com/jpalmerr/opix/internal/telemetry"
)

// closeTimeout bounds the wait for in-flight deliveries after a visit.
const closeTimeout = 10 * time.Second

// addConfigFlag registers the optional -c flag shared by the tracking commands.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (defaults to OPIX_* environment variables)")
}

// loadConfig reads the file named by -c, or builds a configuration from
// defaults and OPIX_* variables when no file is given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("no config file given: %w", err)
	}
	return cfg, nil
}

// visitResult summarises one simulated page visit.
type visitResult struct {
	sent int
}

// runVisit wires a tracker from cfg and drives one page visit.
//
// stub receives invocations made before load. afterLoad runs against the live
// tracker. The page is torn down when afterLoad returns, unless teardown is
// false, and Close waits for in-flight deliveries.
func runVisit(ctx context.Context, cfg *config.Config, logger *slog.Logger, stub *opix.Stub, teardown bool, afterLoad func(*opix.Tracker)) (visitResult, error) {
	var res visitResult

	shutdown, err := telemetry.Setup(ctx, "opix", version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	opts, store, err := config.Build(ctx, cfg, logger)
	if err != nil {
		return res, fmt.Errorf("failed to build tracker: %w", err)
	}

	// sent callbacks run under the tracker lock; printing is all they do
	opts = append(opts, opix.WithSentCallback(func(ev opix.SentEvent) {
		res.sent++
		fmt.Fprintf(os.Stdout, "sent %-22s via %-6s %s %s\n",
			ev.Name, ev.Transport, ev.Request.Method, ev.Timestamp.UTC().Format(time.RFC3339))
	}))

	tr, err := opix.New(opts...)
	if err != nil {
		_ = store.Close()
		return res, fmt.Errorf("failed to create tracker: %w", err)
	}

	pageCtx, endPage := context.WithCancel(ctx)
	defer endPage()

	var errs []error
	if err := tr.Load(pageCtx, stub); err != nil {
		errs = append(errs, err)
	} else {
		if afterLoad != nil {
			afterLoad(tr)
		}
		if teardown {
			tr.PageHide()
		}
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := tr.Close(closeCtx); err != nil {
		errs = append(errs, fmt.Errorf("close tracker: %w", err))
	}
	if err := store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close identity store: %w", err))
	}

	logger.Info("visit complete",
		"tracker_id", tr.TrackerID(),
		"sent", res.sent,
	)
	return res, errors.Join(errs...)
}
