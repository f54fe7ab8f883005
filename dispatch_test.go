package opix

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDispatch_RequiresInit(t *testing.T) {
	tr, rec, _ := newTestTracker(t)
	ctx := context.Background()

	err := tr.Exec(ctx, EventCommand{Name: EventPageView})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Exec() error = %v, want ErrNotInitialized", err)
	}
	if n := len(rec.Requests()); n != 0 {
		t.Fatalf("sent %d requests before init", n)
	}

	// the rejected page view must not burn the once-only guard
	tr.Call("init", "SITE-1")
	if err := tr.Exec(ctx, EventCommand{Name: EventPageView}); err != nil {
		t.Fatalf("Exec() after init error = %v", err)
	}
	if got := rec.Events(); len(got) != 1 || got[0] != EventPageView {
		t.Errorf("events = %v, want [pageview]", got)
	}
}

func TestDispatch_PageViewOnce(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))
	ctx := context.Background()

	if err := tr.Exec(ctx, EventCommand{Name: EventPageView}); err != nil {
		t.Fatalf("first page view error = %v", err)
	}
	for _, name := range []string{EventPageView, EventPageLoad} {
		if err := tr.Exec(ctx, EventCommand{Name: name}); !errors.Is(err, ErrAlreadySent) {
			t.Errorf("repeat %s error = %v, want ErrAlreadySent", name, err)
		}
	}
	if n := len(rec.Requests()); n != 1 {
		t.Errorf("sent %d requests, want 1", n)
	}
}

func TestDispatch_PageCloseOnce(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	tr.Call("event", EventPageClose)
	tr.Call("event", EventPageClose)

	if n := len(rec.Requests()); n != 1 {
		t.Errorf("sent %d page closes, want 1", n)
	}
}

func TestDispatch_CustomEventsRepeat(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	for i := 0; i < 3; i++ {
		tr.Call("event", "signup", map[string]any{"plan": "pro"})
	}
	if n := len(rec.Requests()); n != 3 {
		t.Errorf("sent %d custom events, want 3", n)
	}
}

func TestDispatch_PageViewUsesCaptureTime(t *testing.T) {
	tr, rec, clock := newTestTracker(t, WithTrackerID("SITE-1"))
	captured := testEpoch.Add(-2 * time.Second)

	if err := tr.Load(context.Background(), NewStub(captured)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	clock.Advance(time.Minute)
	tr.Call("event", EventPageView)
	tr.Call("event", "later")

	reqs := rec.Requests()
	if len(reqs) != 2 {
		t.Fatalf("sent %d requests, want 2", len(reqs))
	}
	if got := decodeBody(t, reqs[0])["ts"]; got != float64(captured.UnixMilli()) {
		t.Errorf("pageview ts = %v, want %d", got, captured.UnixMilli())
	}
	if got := decodeBody(t, reqs[1])["ts"]; got != float64(clock.Now().UnixMilli()) {
		t.Errorf("custom ts = %v, want %d", got, clock.Now().UnixMilli())
	}
}

func TestDispatch_PayloadDecoding(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	tr.Call("event", "obj", `{"a":1}`)
	tr.Call("event", "text", "hello")
	tr.Call("event", "broken", `{"a":`)

	reqs := rec.Requests()
	if len(reqs) != 3 {
		t.Fatalf("sent %d requests, want 3", len(reqs))
	}
	if ed, ok := decodeBody(t, reqs[0])["ed"].(map[string]any); !ok || ed["a"] != float64(1) {
		t.Errorf("obj ed = %v, want decoded object", decodeBody(t, reqs[0])["ed"])
	}
	if ed := decodeBody(t, reqs[1])["ed"]; ed != "hello" {
		t.Errorf("text ed = %v, want hello", ed)
	}
	if ed := decodeBody(t, reqs[2])["ed"]; ed != `{"a":` {
		t.Errorf("broken ed = %v, want raw string", ed)
	}
}

type closeReason struct {
	Reason string `json:"reason"`
}

func TestDispatch_OutboundCorrelation(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		data     any
		wantLink bool
		wantKeep string
	}{
		{"within window", 4 * time.Second, nil, true, ""},
		{"just inside window", 5*time.Second - time.Millisecond, nil, true, ""},
		{"at window edge", 5 * time.Second, nil, false, ""},
		{"after window", 6 * time.Second, nil, false, ""},
		{"merges map payload", time.Second, map[string]any{"reason": "nav"}, true, "nav"},
		{"merges struct payload", time.Second, closeReason{Reason: "nav"}, true, "nav"},
		{"merges struct pointer payload", time.Second, &closeReason{Reason: "nav"}, true, "nav"},
		{"merges json marshaler payload", time.Second, json.RawMessage(`{"reason":"nav"}`), true, "nav"},
		{"replaces scalar payload", time.Second, "nav", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, rec, clock := newTestTracker(t,
				WithTrackerID("SITE-1"),
				WithEnvironment(Page{URL: "https://shop.test/cart"}),
			)

			tr.TrackLink("https://partner.test/offer")
			clock.Advance(tt.elapsed)
			tr.Call("event", EventPageClose, tt.data)

			reqs := rec.Requests()
			if len(reqs) != 2 {
				t.Fatalf("sent %d requests, want 2 (outbound + close)", len(reqs))
			}
			ed, _ := decodeBody(t, reqs[1])["ed"].(map[string]any)

			if tt.wantLink {
				if ed[ExternalLinkField] != "https://partner.test/offer" {
					t.Errorf("ed = %v, want external_link", ed)
				}
			} else if ed != nil && ed[ExternalLinkField] != nil {
				t.Errorf("ed = %v, want no external_link", ed)
			}
			if tt.wantKeep != "" && ed["reason"] != tt.wantKeep {
				t.Errorf("ed.reason = %v, want %q", ed["reason"], tt.wantKeep)
			}
		})
	}
}

func TestCorrelateOutbound_LinkWins(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	tr.session.lastOutbound = &outboundClick{link: "https://x.test", at: testEpoch}

	got, _ := tr.correlateOutbound(testEpoch, Literal(map[string]string{
		ExternalLinkField: "stale",
		"k":               "v",
	})).Resolve()

	m := got.(map[string]any)
	if m[ExternalLinkField] != "https://x.test" || m["k"] != "v" {
		t.Errorf("merged = %v", m)
	}
}

func TestCorrelateOutbound_NonMapReplaced(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	tr.session.lastOutbound = &outboundClick{link: "https://x.test", at: testEpoch}

	got, _ := tr.correlateOutbound(testEpoch, Literal("bye")).Resolve()
	want := map[string]any{ExternalLinkField: "https://x.test"}
	if m, ok := got.(map[string]any); !ok || len(m) != 1 || m[ExternalLinkField] != want[ExternalLinkField] {
		t.Errorf("merged = %v, want %v", got, want)
	}
}

func TestDispatch_SerializationFailureDrops(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	err := tr.Exec(context.Background(), EventCommand{Name: "bad", Data: Literal(make(chan int))})
	if err == nil {
		t.Fatal("Exec() expected serialization error")
	}
	if n := len(rec.Requests()); n != 0 {
		t.Errorf("sent %d requests, want 0", n)
	}

	// the tracker keeps working afterwards
	tr.Call("event", "good")
	if n := len(rec.Requests()); n != 1 {
		t.Errorf("sent %d requests after recovery, want 1", n)
	}
}

func TestDispatch_EmptyInitSendsNothing(t *testing.T) {
	tr, rec, _ := newTestTracker(t)

	tr.Call("init", "")
	tr.Call("event", "x")
	tr.Call("event", EventPageView)

	if n := len(rec.Requests()); n != 0 {
		t.Errorf("sent %d requests after init(\"\"), want 0", n)
	}
	if id := tr.TrackerID(); id != "" {
		t.Errorf("TrackerID() = %q, want empty", id)
	}
}
