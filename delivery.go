package opix

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/opix/internal/transport"
)

// Transport tier names used by the default delivery chain.
const (
	TransportBeacon = "beacon"
	TransportFetch  = "fetch"
)

var (
	// ErrNoTransport is returned when every transport tier failed or was unavailable.
	ErrNoTransport = errors.New("no transport accepted the event")

	// ErrBeaconRejected wraps the reason the beacon tier refused a request.
	ErrBeaconRejected = errors.New("beacon rejected the event")
)

// Request is one serialised event ready for delivery.
type Request struct {
	// Event is the event name, for logging.
	Event string

	Method      string
	URL         string
	ContentType string
	Body        []byte
}

// Transport is one delivery tier. Send reports whether the tier accepted
// the request; it must not block on network completion.
type Transport interface {
	Name() string
	Send(ctx context.Context, req Request) error
}

// Availability is optionally implemented by a [Transport] that can be
// switched off at runtime.
type Availability interface {
	Available() bool
}

// CapabilityProbe reports whether the named transport tier is usable in the
// current environment. A nil probe treats every tier as available.
type CapabilityProbe func(name string) bool

// deliver tries each tier once, in rank order, until one accepts req.
// It returns the name of the accepting tier.
func (t *Tracker) deliver(ctx context.Context, req Request) (string, error) {
	attempted := 0
	for _, tr := range t.transports {
		name := tr.Name()
		if !t.available(tr) {
			t.logger.Debug("transport unavailable, skipping",
				"transport", name,
				"event", req.Event,
			)
			continue
		}

		if attempted > 0 {
			t.telemetry.fallback(ctx, name)
		}
		attempted++

		err := safeSend(ctx, tr, req)
		if err == nil {
			t.logger.Debug("event handed to transport",
				"transport", name,
				"event", req.Event,
			)
			return name, nil
		}
		t.logger.Warn("transport failed",
			"transport", name,
			"event", req.Event,
			"error", err.Error(),
		)
	}
	return "", ErrNoTransport
}

func (t *Tracker) available(tr Transport) bool {
	if t.probe != nil && !t.probe(tr.Name()) {
		return false
	}
	if a, ok := tr.(Availability); ok && !a.Available() {
		return false
	}
	return true
}

// safeSend calls tr.Send, converting a panic into an error.
func safeSend(ctx context.Context, tr Transport, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport %s panicked: %v", tr.Name(), r)
		}
	}()
	return tr.Send(ctx, req)
}

func toTransportRequest(req Request) transport.Request {
	return transport.Request{
		Method:      req.Method,
		URL:         req.URL,
		ContentType: req.ContentType,
		Body:        req.Body,
	}
}

// beaconTransport hands requests to the detached beacon queue.
type beaconTransport struct {
	beacon *transport.Beacon
}

func (b *beaconTransport) Name() string { return TransportBeacon }

func (b *beaconTransport) Send(_ context.Context, req Request) error {
	if err := b.beacon.Enqueue(toTransportRequest(req)); err != nil {
		return fmt.Errorf("%w: %w", ErrBeaconRejected, err)
	}
	return nil
}

// fetchTransport starts an asynchronous keep-alive request.
type fetchTransport struct {
	fetcher *transport.Fetcher
}

func (f *fetchTransport) Name() string { return TransportFetch }

func (f *fetchTransport) Send(ctx context.Context, req Request) error {
	f.fetcher.Go(ctx, toTransportRequest(req))
	return nil
}
