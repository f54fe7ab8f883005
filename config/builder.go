package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/opix"
	"github.com/jpalmerr/opix/identity"
)

// redisPingTimeout bounds the connectivity check made when opening a Redis jar.
const redisPingTimeout = 3 * time.Second

// Build converts parsed configuration into tracker options.
//
// The returned store is the identity jar the options reference; the caller
// owns it and must close it after the tracker. logger is attached to the
// tracker when non-nil.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) ([]opix.Option, identity.Store, error) {
	format, err := opix.ParseFormat(cfg.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("format: %w", err)
	}

	store, err := OpenIdentity(ctx, cfg.Identity)
	if err != nil {
		return nil, nil, err
	}

	opts := []opix.Option{
		opix.WithEndpoint(cfg.Endpoint),
		opix.WithFunctionName(cfg.FunctionName),
		opix.WithVersion(cfg.Version),
		opix.WithFormat(format),
		opix.WithIdentityStore(store),
		opix.WithBeacon(buildBeacon(cfg.Transport.Beacon)),
		opix.WithEnvironment(BuildPage(cfg.Page, time.Now())),
	}
	if cfg.TrackerID != "" {
		opts = append(opts, opix.WithTrackerID(cfg.TrackerID))
	}
	if d := cfg.Transport.FetchTimeout.Duration(); d > 0 {
		opts = append(opts, opix.WithFetchTimeout(d))
	}
	if d := cfg.Transport.OutboundWindow.Duration(); d > 0 {
		opts = append(opts, opix.WithOutboundWindow(d))
	}
	if logger != nil {
		opts = append(opts, opix.WithLogger(logger))
	}
	return opts, store, nil
}

// OpenIdentity opens the identity jar selected by ic.
func OpenIdentity(ctx context.Context, ic IdentityConfig) (identity.Store, error) {
	switch ic.Driver {
	case "", DriverMemory:
		return identity.NewMemoryStore(), nil

	case DriverSQLite:
		st, err := identity.OpenSQLite(ic.Path)
		if err != nil {
			return nil, fmt.Errorf("identity (sqlite): %w", err)
		}
		return st, nil

	case DriverRedis:
		st := identity.NewRedisStore(ic.Redis.Addr, ic.Redis.Password, ic.Redis.DB, ic.Redis.Prefix)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("identity (redis): %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("identity: unknown driver %q", ic.Driver)
	}
}

// BuildPage converts page configuration into a static environment. A missing
// timezone offset is taken from the local zone at now.
func BuildPage(pc PageConfig, now time.Time) opix.Page {
	offset := opix.TimezoneOffsetAt(now)
	if pc.TimezoneOffset != nil {
		offset = *pc.TimezoneOffset
	}
	return opix.Page{
		URL:           pc.URL,
		ReferrerURL:   pc.Referrer,
		DocumentTitle: pc.Title,
		Charset:       pc.Charset,
		Screen:        opix.Size(pc.Screen),
		Viewport:      opix.Size(pc.Viewport),
		Depth:         pc.ColorDepth,
		OffsetMinutes: offset,
		Agent:         pc.UserAgent,
		TouchPoints:   pc.TouchPoints,
	}
}

// buildBeacon overlays configured beacon settings on the SDK defaults.
func buildBeacon(bc BeaconConfig) opix.BeaconConfig {
	out := opix.DefaultBeaconConfig()
	if bc.Enabled != nil {
		out.Enabled = *bc.Enabled
	}
	if bc.QueueSize > 0 {
		out.QueueSize = bc.QueueSize
	}
	if bc.Workers > 0 {
		out.Workers = bc.Workers
	}
	if bc.MaxBodyBytes > 0 {
		out.MaxBodyBytes = bc.MaxBodyBytes
	}
	if bc.Rate > 0 {
		out.Rate = bc.Rate
	}
	if bc.Burst > 0 {
		out.Burst = bc.Burst
	}
	if d := bc.Timeout.Duration(); d > 0 {
		out.Timeout = d
	}
	return out
}
