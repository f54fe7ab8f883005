package opix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jpalmerr/opix/identity"
	"github.com/jpalmerr/opix/internal/transport"
)

const (
	defaultFunctionName   = "strk"
	defaultVersion        = "1"
	defaultFetchTimeout   = 10 * time.Second
	defaultOutboundWindow = 5 * time.Second
)

// session is the single-owner tracking state of one page. It is created
// at construction and never reset.
type session struct {
	trackerID     string
	params        *paramSet
	pageViewSent  bool
	pageCloseSent bool
	pageHideFired bool
	lastOutbound  *outboundClick
	capturedAt    time.Time
}

// Tracker is the telemetry client for one tracked page.
//
// A Tracker interprets invocations ([Tracker.Call]), gates lifecycle events,
// resolves the attribute set and hands it to a ranked chain of transports.
// It is created with [New], optionally bootstrapped with [Tracker.Load], and
// released with [Tracker.Close]:
//
//	tr, err := opix.New(
//	    opix.WithEndpoint("https://collect.example.com/p"),
//	    opix.WithEnvironment(opix.RequestEnvironment(r)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer tr.Close(context.Background())
//
//	tr.Load(r.Context(), nil)
//	tr.Call("init", "SITE-123")
//	tr.Call("event", "pageview")
//
// All methods are safe for concurrent use. Invocations are processed one at a
// time in call order.
type Tracker struct {
	mu      sync.Mutex
	session session
	pageCtx context.Context
	loaded  bool

	endpoint       string
	funcName       string
	version        string
	format         Format
	env            Environment
	browser        Browser
	identity       *identity.Manager
	transports     []Transport
	probe          CapabilityProbe
	now            func() time.Time
	logger         *slog.Logger
	telemetry      *telemetry
	outboundWindow time.Duration
	sentCallbacks  []func(SentEvent)

	client  *transport.Client
	beacon  *transport.Beacon
	fetcher *transport.Fetcher

	closeOnce sync.Once
	closeErr  error
}

// New creates a [Tracker] with the given options.
//
// [WithEndpoint] is required. Other options default to:
//   - function name "strk", protocol version "1"
//   - JSON wire format
//   - beacon tier then fetch tier, see [DefaultBeaconConfig]
//   - an in-memory identity store
//   - global OpenTelemetry providers
func New(opts ...Option) (*Tracker, error) {
	cfg := &trackerConfig{
		funcName:       defaultFunctionName,
		version:        defaultVersion,
		format:         FormatJSON,
		beacon:         DefaultBeaconConfig(),
		fetchTimeout:   defaultFetchTimeout,
		outboundWindow: defaultOutboundWindow,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}
	env := cfg.env
	if env == nil {
		env = Page{}
	}
	browser := cfg.browser
	if browser == nil {
		browser = RegexBrowser{}
	}
	store := cfg.store
	if store == nil {
		store = identity.NewMemoryStoreWithClock(now)
	}
	tp := cfg.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	t := &Tracker{
		session: session{
			trackerID: cfg.trackerID,
			params:    newParamSet(),
		},
		pageCtx:        context.Background(),
		endpoint:       cfg.endpoint,
		funcName:       cfg.funcName,
		version:        cfg.version,
		format:         cfg.format,
		env:            env,
		browser:        browser,
		identity:       identity.NewManager(store, cfg.funcName, cfg.version),
		transports:     cfg.transports,
		probe:          cfg.probe,
		now:            now,
		logger:         logger,
		telemetry:      newTelemetry(tp, mp),
		outboundWindow: cfg.outboundWindow,
		sentCallbacks:  cfg.sentCallbacks,
	}

	if t.transports == nil {
		t.transports = t.defaultTransports(cfg)
	}
	return t, nil
}

// defaultTransports builds the beacon then fetch chain.
func (t *Tracker) defaultTransports(cfg *trackerConfig) []Transport {
	if cfg.httpClient != nil {
		t.client = transport.NewClientWithHTTP(cfg.httpClient)
	} else {
		t.client = transport.NewClient()
	}

	var tiers []Transport
	if cfg.beacon.Enabled {
		t.beacon = transport.NewBeacon(context.Background(), t.client, transport.BeaconConfig{
			QueueSize:    cfg.beacon.QueueSize,
			Workers:      cfg.beacon.Workers,
			MaxBodyBytes: cfg.beacon.MaxBodyBytes,
			Rate:         cfg.beacon.Rate,
			Burst:        cfg.beacon.Burst,
			Timeout:      cfg.beacon.Timeout,
		}, t.logger)
		tiers = append(tiers, &beaconTransport{beacon: t.beacon})
	}

	t.fetcher = transport.NewFetcher(t.client, cfg.fetchTimeout, t.logger)
	return append(tiers, &fetchTransport{fetcher: t.fetcher})
}

// Load performs page-load setup: it binds the page context, ensures the
// visitor id, captures campaign attribution from the page URL, and then
// replays any invocations queued on stub before attaching it.
//
// stub may be nil, in which case the load time becomes the page view time.
// Identity failures are logged and do not stop the load.
func (t *Tracker) Load(ctx context.Context, stub *Stub) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	if t.loaded {
		t.mu.Unlock()
		return errors.New("tracker already loaded")
	}
	t.loaded = true
	t.pageCtx = ctx
	t.session.capturedAt = t.now()
	if stub != nil {
		t.session.capturedAt = stub.CapturedAt()
	}
	t.mu.Unlock()

	if _, err := t.identity.EnsureVisitor(ctx); err != nil {
		t.logger.Warn("visitor id unavailable", "error", err.Error())
	}
	if written, err := t.identity.CaptureCampaign(ctx, t.env.Location()); err != nil {
		t.logger.Warn("campaign capture failed", "error", err.Error())
	} else if written {
		t.logger.Debug("campaign attribution captured")
	}

	if stub != nil {
		n := stub.attach(ctx, t)
		t.logger.Debug("queued invocations replayed", "count", n)
	}
	return nil
}

// Call processes one invocation: init(id), param(key, value) or
// event(name, data). It never panics and never reports errors; rejected
// invocations are logged.
func (t *Tracker) Call(verb string, args ...any) {
	t.CallContext(t.pageContext(), verb, args...)
}

// CallContext is [Tracker.Call] with an explicit context. Delivery keeps the
// values of ctx but not its cancellation.
func (t *Tracker) CallContext(ctx context.Context, verb string, args ...any) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("invocation panicked",
				"verb", verb,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	cmd, err := ParseCommand(verb, args...)
	if err != nil {
		if errors.Is(err, ErrUnknownVerb) {
			t.logger.Warn("unrecognized command ignored", "verb", verb)
		} else {
			t.logger.Error("invalid command", "verb", verb, "error", err.Error())
		}
		return
	}
	_ = t.Exec(ctx, cmd)
}

// Exec applies a parsed command and reports its outcome. Dispatch outcomes
// are [ErrNotInitialized], [ErrAlreadySent], [ErrNoTransport] or a
// serialization error; all of them are also logged.
func (t *Tracker) Exec(ctx context.Context, cmd Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch c := cmd.(type) {
	case InitCommand:
		t.session.trackerID = c.TrackerID
		t.logger.Info("tracker initialized", "tracker_id", c.TrackerID)
		return nil
	case ParamCommand:
		t.session.params.Set(c.Key, c.Value)
		t.logger.Debug("custom parameter set", "key", c.Key)
		return nil
	case EventCommand:
		return t.dispatch(ctx, c.Name, c.Data)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidCommand, cmd)
	}
}

// Close drains the beacon queue and waits for in-flight fetches, bounded by
// ctx. Events dispatched after Close fall through to the fetch tier or are
// dropped. Safe to call multiple times.
func (t *Tracker) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		var errs []error
		if t.beacon != nil {
			errs = append(errs, t.beacon.Close(ctx))
		}
		if t.fetcher != nil {
			errs = append(errs, t.fetcher.Wait(ctx))
		}
		t.client.Close()
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

func (t *Tracker) pageContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pageCtx
}

// TrackerID returns the current tracker id, empty until init.
func (t *Tracker) TrackerID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.trackerID
}

// Identity returns the visitor and campaign manager.
func (t *Tracker) Identity() *identity.Manager {
	return t.identity
}

// FunctionName returns the configured invocation function name.
func (t *Tracker) FunctionName() string {
	return t.funcName
}

// Version returns the protocol version.
func (t *Tracker) Version() string {
	return t.version
}
