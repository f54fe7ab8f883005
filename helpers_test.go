package opix

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

const testEndpoint = "https://collect.test/p"

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingTransport captures accepted requests in memory.
type recordingTransport struct {
	name string
	err  error
	off  bool

	mu   sync.Mutex
	reqs []Request
}

func newRecorder(name string) *recordingTransport {
	return &recordingTransport{name: name}
}

func (r *recordingTransport) Name() string { return r.name }

func (r *recordingTransport) Available() bool { return !r.off }

func (r *recordingTransport) Send(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingTransport) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.reqs...)
}

func (r *recordingTransport) Events() []string {
	var names []string
	for _, req := range r.Requests() {
		names = append(names, req.Event)
	}
	return names
}

var errTierDown = errors.New("tier down")

// newTestTracker builds a tracker on a recording transport with a fake clock.
func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *recordingTransport, *fakeClock) {
	t.Helper()

	rec := newRecorder("rec")
	clock := newFakeClock()
	base := []Option{
		WithEndpoint(testEndpoint),
		WithLogger(discardLogger()),
		WithClock(clock.Now),
		WithTransports(rec),
	}
	tr, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr, rec, clock
}

// decodeBody parses a JSON delivery body into a map.
func decodeBody(t *testing.T, req Request) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(req.Body, &m); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, req.Body)
	}
	return m
}
