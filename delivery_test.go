package opix

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/opix/internal/transport"
)

func TestDeliver_FirstTierWins(t *testing.T) {
	primary, secondary := newRecorder("primary"), newRecorder("secondary")
	tr, _, _ := newTestTracker(t, WithTrackerID("S"), WithTransports(primary, secondary))

	tr.Call("event", "x")

	if len(primary.Requests()) != 1 || len(secondary.Requests()) != 0 {
		t.Errorf("primary=%d secondary=%d, want 1/0", len(primary.Requests()), len(secondary.Requests()))
	}
}

func TestDeliver_FallsBackOnRejection(t *testing.T) {
	primary, secondary := newRecorder("primary"), newRecorder("secondary")
	primary.err = errTierDown

	var got SentEvent
	tr, _, _ := newTestTracker(t,
		WithTrackerID("S"),
		WithTransports(primary, secondary),
		WithSentCallback(func(ev SentEvent) { got = ev }),
	)

	tr.Call("event", "x")

	if len(secondary.Requests()) != 1 {
		t.Fatalf("secondary got %d requests, want 1", len(secondary.Requests()))
	}
	if got.Transport != "secondary" {
		t.Errorf("SentEvent.Transport = %q, want secondary", got.Transport)
	}
}

func TestDeliver_SkipsUnavailableTiers(t *testing.T) {
	primary, secondary := newRecorder("primary"), newRecorder("secondary")
	primary.off = true

	tr, _, _ := newTestTracker(t, WithTrackerID("S"), WithTransports(primary, secondary))
	tr.Call("event", "x")

	if len(secondary.Requests()) != 1 {
		t.Errorf("secondary got %d requests, want 1", len(secondary.Requests()))
	}
}

func TestDeliver_CapabilityProbe(t *testing.T) {
	primary, secondary := newRecorder("primary"), newRecorder("secondary")
	probe := func(name string) bool { return name != "primary" }

	tr, _, _ := newTestTracker(t,
		WithTrackerID("S"),
		WithTransports(primary, secondary),
		WithCapabilityProbe(probe),
	)
	tr.Call("event", "x")

	if len(primary.Requests()) != 0 || len(secondary.Requests()) != 1 {
		t.Errorf("primary=%d secondary=%d, want 0/1", len(primary.Requests()), len(secondary.Requests()))
	}
}

func TestDeliver_NoTransport(t *testing.T) {
	primary, secondary := newRecorder("primary"), newRecorder("secondary")
	primary.err = errTierDown
	secondary.off = true

	tr, _, _ := newTestTracker(t, WithTrackerID("S"), WithTransports(primary, secondary))

	err := tr.Exec(context.Background(), EventCommand{Name: "x"})
	if !errors.Is(err, ErrNoTransport) {
		t.Errorf("Exec() error = %v, want ErrNoTransport", err)
	}
}

type panickingTransport struct{}

func (panickingTransport) Name() string { return "panicky" }
func (panickingTransport) Send(context.Context, Request) error {
	panic("tier exploded")
}

func TestDeliver_PanickingTierFallsBack(t *testing.T) {
	secondary := newRecorder("secondary")
	tr, _, _ := newTestTracker(t, WithTrackerID("S"), WithTransports(panickingTransport{}, secondary))

	tr.Call("event", "x")

	if len(secondary.Requests()) != 1 {
		t.Errorf("secondary got %d requests, want 1", len(secondary.Requests()))
	}
}

// countingCollector counts hits and remembers the last method.
func countingCollector(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDefaultTransports_BeaconThenFetch(t *testing.T) {
	srv, hits := countingCollector(t)

	tr, err := New(
		WithEndpoint(srv.URL),
		WithLogger(discardLogger()),
		WithTrackerID("S"),
		WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if len(tr.transports) != 2 ||
		tr.transports[0].Name() != TransportBeacon ||
		tr.transports[1].Name() != TransportFetch {
		t.Fatalf("default chain = %v", tr.transports)
	}

	tr.Call("event", EventPageView)
	if err := tr.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("collector hits = %d, want 1", hits.Load())
	}
}

func TestDefaultTransports_OversizeFallsBackToFetch(t *testing.T) {
	srv, hits := countingCollector(t)

	var tiers []string
	tr, err := New(
		WithEndpoint(srv.URL),
		WithLogger(discardLogger()),
		WithTrackerID("S"),
		WithBeacon(BeaconConfig{Enabled: true, MaxBodyBytes: 64}),
		WithSentCallback(func(ev SentEvent) { tiers = append(tiers, ev.Transport) }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tr.Call("event", "big")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(tiers) != 1 || tiers[0] != TransportFetch {
		t.Errorf("tiers = %v, want [fetch]", tiers)
	}
	if hits.Load() != 1 {
		t.Errorf("collector hits = %d, want 1", hits.Load())
	}
}

func TestDefaultTransports_BeaconDisabled(t *testing.T) {
	tr, err := New(
		WithEndpoint(testEndpoint),
		WithLogger(discardLogger()),
		WithBeacon(BeaconConfig{Enabled: false}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tr.Close(context.Background())

	if len(tr.transports) != 1 || tr.transports[0].Name() != TransportFetch {
		t.Errorf("chain = %v, want [fetch]", tr.transports)
	}
}

func TestBeaconTransport_ClosedRejects(t *testing.T) {
	b := transport.NewBeacon(context.Background(), transport.NewClient(), transport.DefaultBeaconConfig(), discardLogger())
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	bt := &beaconTransport{beacon: b}
	err := bt.Send(context.Background(), Request{Method: http.MethodPost, URL: testEndpoint})
	if !errors.Is(err, transport.ErrBeaconClosed) {
		t.Errorf("Send() error = %v, want ErrBeaconClosed", err)
	}
	if !errors.Is(err, ErrBeaconRejected) {
		t.Errorf("Send() error = %v, want ErrBeaconRejected", err)
	}
}
