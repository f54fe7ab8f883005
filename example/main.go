// Command example runs a demo shop that tracks its own page views server-side
// and a development collector that receives them.
//
// Usage:
//
//	go run ./example
//
// Then browse http://localhost:9999 and watch http://localhost:8080.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/opix/dashboard"
	"github.com/jpalmerr/opix/internal/collector"
)

const (
	collectorAddr = "127.0.0.1:8080"
	shopAddr      = "127.0.0.1:9999"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validator, err := collector.NewValidator()
	if err != nil {
		logger.Error("failed to load event schema", "error", err)
		os.Exit(1)
	}
	col := collector.NewServer(collector.NewMemoryStore(collector.DefaultCapacity), validator,
		collectorAddr, dashboard.Assets, "opix demo", logger)
	if err := col.Start(ctx); err != nil {
		logger.Error("failed to start collector", "error", err)
		os.Exit(1)
	}

	shop := newShop("http://"+col.Addr()+collector.IngestPath, "DEMO-SHOP", logger)
	srv := &http.Server{
		Addr:              shopAddr,
		Handler:           shop.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println()
	fmt.Println("  opix demo")
	fmt.Println()
	fmt.Println("  Shop:      http://" + shopAddr)
	fmt.Println("  Events:    http://" + col.Addr())
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("shop server error", "error", err)
		os.Exit(1)
	}

	// wait for trackers still delivering
	shop.Wait()
	<-col.Done()
}
