package opix

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpalmerr/opix/identity"
)

// trackerConfig holds mutable state during Tracker construction.
type trackerConfig struct {
	endpoint       string
	funcName       string
	version        string
	trackerID      string
	format         Format
	logger         *slog.Logger
	now            func() time.Time
	env            Environment
	browser        Browser
	store          identity.Store
	transports     []Transport
	probe          CapabilityProbe
	beacon         BeaconConfig
	fetchTimeout   time.Duration
	httpClient     *http.Client
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	outboundWindow time.Duration
	sentCallbacks  []func(SentEvent)
}

// Option configures a [Tracker] during construction.
//
// Options return an error if validation fails, in which case [New] fails.
type Option func(*trackerConfig) error

// BeaconConfig tunes the primary transport tier.
type BeaconConfig struct {
	// Enabled switches the beacon tier on. When false every event goes
	// straight to the fetch tier.
	Enabled bool

	// QueueSize bounds accepted but undelivered events.
	QueueSize int

	// Workers is the number of delivery goroutines.
	Workers int

	// MaxBodyBytes rejects larger payloads so they fall back to fetch.
	MaxBodyBytes int

	// Rate and Burst bound accepted events per second. Rate <= 0 disables the quota.
	Rate  float64
	Burst int

	// Timeout bounds each beacon delivery.
	Timeout time.Duration
}

// DefaultBeaconConfig returns the beacon settings used by [New].
func DefaultBeaconConfig() BeaconConfig {
	return BeaconConfig{
		Enabled:      true,
		QueueSize:    256,
		Workers:      2,
		MaxBodyBytes: 64 << 10,
		Rate:         50,
		Burst:        100,
		Timeout:      10 * time.Second,
	}
}

// WithEndpoint sets the collection endpoint. Required.
//
// Returns an error unless the URL is absolute with an http or https scheme.
func WithEndpoint(endpoint string) Option {
	return func(cfg *trackerConfig) error {
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.New("endpoint must include a host")
		}
		cfg.endpoint = endpoint
		return nil
	}
}

// WithFunctionName sets the invocation function name, which namespaces
// persisted identity keys. Defaults to "strk".
func WithFunctionName(name string) Option {
	return func(cfg *trackerConfig) error {
		if name == "" {
			return errors.New("function name cannot be empty")
		}
		cfg.funcName = name
		return nil
	}
}

// WithVersion sets the protocol version sent as the v attribute and used to
// prefix new visitor ids. Defaults to "1".
func WithVersion(version string) Option {
	return func(cfg *trackerConfig) error {
		if version == "" {
			return errors.New("version cannot be empty")
		}
		cfg.version = version
		return nil
	}
}

// WithTrackerID pre-initialises the tracker, as if init had been called.
// An empty id leaves the tracker uninitialised.
func WithTrackerID(id string) Option {
	return func(cfg *trackerConfig) error {
		cfg.trackerID = id
		return nil
	}
}

// WithFormat selects the wire format. Defaults to [FormatJSON].
func WithFormat(f Format) Option {
	return func(cfg *trackerConfig) error {
		if f != FormatJSON && f != FormatQuery {
			return fmt.Errorf("unknown format %d", int(f))
		}
		cfg.format = f
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *trackerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *trackerConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.now = now
		return nil
	}
}

// WithEnvironment sets the page facts source. Defaults to an empty [Page].
func WithEnvironment(env Environment) Option {
	return func(cfg *trackerConfig) error {
		if env == nil {
			return errors.New("environment cannot be nil")
		}
		cfg.env = env
		return nil
	}
}

// WithBrowser replaces the user-agent classifier. Defaults to [RegexBrowser].
func WithBrowser(b Browser) Option {
	return func(cfg *trackerConfig) error {
		if b == nil {
			return errors.New("browser cannot be nil")
		}
		cfg.browser = b
		return nil
	}
}

// WithIdentityStore sets the jar holding visitor and campaign records.
// Defaults to a fresh [identity.MemoryStore]. The tracker does not close it.
func WithIdentityStore(s identity.Store) Option {
	return func(cfg *trackerConfig) error {
		if s == nil {
			return errors.New("identity store cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithTransports replaces the default beacon then fetch chain with the given
// tiers, tried in order.
func WithTransports(ts ...Transport) Option {
	return func(cfg *trackerConfig) error {
		if len(ts) == 0 {
			return errors.New("at least one transport is required")
		}
		for i, tr := range ts {
			if tr == nil {
				return fmt.Errorf("transport %d is nil", i)
			}
		}
		cfg.transports = append([]Transport(nil), ts...)
		return nil
	}
}

// WithCapabilityProbe injects the feature check consulted before each tier.
func WithCapabilityProbe(p CapabilityProbe) Option {
	return func(cfg *trackerConfig) error {
		cfg.probe = p
		return nil
	}
}

// WithBeacon tunes the beacon tier. Zero numeric fields take defaults.
func WithBeacon(bc BeaconConfig) Option {
	return func(cfg *trackerConfig) error {
		if bc.QueueSize < 0 || bc.Workers < 0 || bc.MaxBodyBytes < 0 || bc.Burst < 0 {
			return errors.New("beacon limits cannot be negative")
		}
		cfg.beacon = bc
		return nil
	}
}

// WithFetchTimeout bounds each fetch-tier request. Defaults to 10 seconds.
func WithFetchTimeout(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("fetch timeout must be positive")
		}
		cfg.fetchTimeout = d
		return nil
	}
}

// WithHTTPClient sets the client used by the default transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *trackerConfig) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		cfg.httpClient = hc
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *trackerConfig) error {
		if tp == nil {
			return errors.New("tracer provider cannot be nil")
		}
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *trackerConfig) error {
		if mp == nil {
			return errors.New("meter provider cannot be nil")
		}
		cfg.meterProvider = mp
		return nil
	}
}

// WithOutboundWindow sets how recent an outbound click must be to be merged
// into page close. Defaults to 5 seconds.
func WithOutboundWindow(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("outbound window must be positive")
		}
		cfg.outboundWindow = d
		return nil
	}
}

// WithSentCallback registers a function called after each event is handed to
// a transport.
//
// Callbacks run synchronously while the tracker holds its lock: they must be
// quick and must not call back into the tracker. Panics are recovered and
// logged. Nil callbacks are ignored.
func WithSentCallback(cb func(SentEvent)) Option {
	return func(cfg *trackerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.sentCallbacks = append(cfg.sentCallbacks, cb)
		return nil
	}
}
