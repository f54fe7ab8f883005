package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Beacon rejection reasons. Each one makes the caller fall back to the next tier.
var (
	ErrBeaconClosed = errors.New("beacon closed")
	ErrQueueFull    = errors.New("beacon queue full")
	ErrTooLarge     = errors.New("payload exceeds beacon limit")
	ErrRateLimited  = errors.New("beacon quota exhausted")
)

// BeaconConfig tunes a [Beacon].
type BeaconConfig struct {
	// QueueSize bounds the number of accepted but undelivered requests.
	QueueSize int

	// Workers is the number of concurrent delivery goroutines.
	Workers int

	// MaxBodyBytes rejects larger payloads, mirroring browser beacon limits.
	// Query-string deliveries count their URL length.
	MaxBodyBytes int

	// Rate and Burst bound accepted requests per second. Rate <= 0 disables the limiter.
	Rate  float64
	Burst int

	// Timeout bounds each delivery.
	Timeout time.Duration
}

// DefaultBeaconConfig returns the limits used when none are configured.
func DefaultBeaconConfig() BeaconConfig {
	return BeaconConfig{
		QueueSize:    256,
		Workers:      2,
		MaxBodyBytes: 64 << 10,
		Rate:         50,
		Burst:        100,
		Timeout:      10 * time.Second,
	}
}

// Beacon is a fire-and-forget delivery queue that outlives its caller.
//
// Enqueue only decides acceptance; delivery happens on a worker pool whose
// context is detached from the enqueuing page, so page teardown does not
// cancel requests already handed over. [Beacon.Close] stops intake and
// drains the queue.
type Beacon struct {
	cfg     BeaconConfig
	client  *Client
	limiter *rate.Limiter
	logger  *slog.Logger
	jobs    chan Request

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBeacon creates and starts a [Beacon]. Workers run on a context derived
// from ctx with cancellation removed.
func NewBeacon(ctx context.Context, client *Client, cfg BeaconConfig, logger *slog.Logger) *Beacon {
	def := DefaultBeaconConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b := &Beacon{
		cfg:    cfg,
		client: client,
		logger: logger,
		jobs:   make(chan Request, cfg.QueueSize),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	detached := context.WithoutCancel(ctx)
	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.work(detached)
	}
	return b
}

// Enqueue hands req to the delivery workers. It never blocks; a non-nil
// error means the request was not accepted.
func (b *Beacon) Enqueue(req Request) error {
	size := len(req.Body)
	if size == 0 {
		size = len(req.URL)
	}
	if size > b.cfg.MaxBodyBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, b.cfg.MaxBodyBytes)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBeaconClosed
	}
	if b.limiter != nil && !b.limiter.Allow() {
		return ErrRateLimited
	}

	select {
	case b.jobs <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting requests and waits for queued ones to be delivered,
// or for ctx to end. Safe to call multiple times.
func (b *Beacon) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("beacon drain: %w", ctx.Err())
	}
}

func (b *Beacon) work(ctx context.Context) {
	defer b.wg.Done()
	for req := range b.jobs {
		resp := b.client.Do(ctx, req, b.cfg.Timeout)
		if resp.Error != nil {
			b.logger.Warn("beacon delivery failed",
				"url", req.URL,
				"status_code", resp.StatusCode,
				"error", resp.Error.Error(),
			)
			continue
		}
		b.logger.Debug("beacon delivered",
			"status_code", resp.StatusCode,
			"latency_ms", resp.Latency.Milliseconds(),
		)
	}
}
