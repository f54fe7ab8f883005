package opix

import (
	"context"
	"sync"
	"time"
)

type invocation struct {
	verb string
	args []any
}

// Stub queues invocations made before a [Tracker] is ready.
//
// The stub records its creation time as the page capture time, which later
// timestamps the page view. Once passed to [Tracker.Load] the queue is
// replayed in submission order and subsequent calls go straight to the
// tracker.
type Stub struct {
	mu         sync.Mutex
	capturedAt time.Time
	queue      []invocation
	tracker    *Tracker
	ctx        context.Context
}

// NewStub creates a stub whose capture time is now.
func NewStub(now time.Time) *Stub {
	return &Stub{capturedAt: now}
}

// Call queues the invocation, or forwards it once the stub is attached.
func (s *Stub) Call(verb string, args ...any) {
	s.mu.Lock()
	t, ctx := s.tracker, s.ctx
	if t == nil {
		s.queue = append(s.queue, invocation{verb: verb, args: append([]any(nil), args...)})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	t.CallContext(ctx, verb, args...)
}

// CapturedAt returns the time the page became trackable.
func (s *Stub) CapturedAt() time.Time {
	return s.capturedAt
}

// Len returns the number of queued invocations.
func (s *Stub) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// attach replays the queue through t and switches the stub to pass-through.
// Calls arriving during replay wait on the lock and run after the queue.
func (s *Stub) attach(ctx context.Context, t *Tracker) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.queue
	s.queue = nil
	for _, inv := range queued {
		t.CallContext(ctx, inv.verb, inv.args...)
	}
	s.tracker, s.ctx = t, ctx
	return len(queued)
}
