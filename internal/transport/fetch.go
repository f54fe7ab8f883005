package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Fetcher sends requests asynchronously with keep-alive semantics.
//
// A fetch keeps the values of the context it was started with but not its
// cancellation, so a request started during or after page teardown still
// goes out. Each request is bounded by the fetch timeout. Unlike [Beacon]
// there is no queue, size limit or quota. Outcomes are logged and never
// reported back.
type Fetcher struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewFetcher creates a [Fetcher] with a per-request timeout.
func NewFetcher(client *Client, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, timeout: timeout, logger: logger}
}

// Go starts req in a background goroutine and returns immediately.
func (f *Fetcher) Go(ctx context.Context, req Request) {
	keepAlive := context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		resp := f.client.Do(keepAlive, req, f.timeout)
		if resp.Error != nil {
			f.logger.Warn("fetch delivery failed",
				"url", req.URL,
				"status_code", resp.StatusCode,
				"error", resp.Error.Error(),
			)
			return
		}
		f.logger.Debug("fetch delivered",
			"status_code", resp.StatusCode,
			"latency_ms", resp.Latency.Milliseconds(),
		)
	}()
}

// Wait blocks until every started fetch has finished or ctx ends.
func (f *Fetcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch wait: %w", ctx.Err())
	}
}
