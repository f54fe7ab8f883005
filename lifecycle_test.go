package opix

import (
	"context"
	"testing"
	"time"
)

func TestPageHide_Once(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	tr.PageHide()
	tr.PageHide()

	if got := rec.Events(); len(got) != 1 || got[0] != EventPageClose {
		t.Errorf("events = %v, want [pageclose]", got)
	}
}

func TestPageHide_AfterExplicitClose(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	tr.Call("event", EventPageClose)
	tr.PageHide()

	if n := len(rec.Requests()); n != 1 {
		t.Errorf("sent %d page closes, want 1", n)
	}
}

func TestWatchTeardown_FiresOnCancel(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	ctx, cancel := context.WithCancel(context.Background())
	tr.WatchTeardown(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Requests()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rec.Events(); len(got) != 1 || got[0] != EventPageClose {
		t.Errorf("events = %v, want [pageclose]", got)
	}
}

func TestWatchTeardown_Stop(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))

	ctx, cancel := context.WithCancel(context.Background())
	stop := tr.WatchTeardown(ctx)
	if !stop() {
		t.Fatal("stop() = false, want true before cancellation")
	}
	cancel()
	time.Sleep(20 * time.Millisecond)

	if n := len(rec.Requests()); n != 0 {
		t.Errorf("sent %d requests after stop, want 0", n)
	}
}

func TestTrackClick(t *testing.T) {
	page := Page{URL: "https://shop.test/cart"}

	tests := []struct {
		name  string
		click Click
		want  []string
	}{
		{"custom event only", Click{Event: "cta", Data: "hero"}, []string{"cta"}},
		{"internal link", Click{Href: "https://shop.test/checkout"}, nil},
		{"relative link", Click{Href: "/checkout"}, nil},
		{"mailto link", Click{Href: "mailto:help@shop.test"}, nil},
		{"external link", Click{Href: "https://partner.test/"}, []string{EventOutboundClick}},
		{"event on external link", Click{Event: "cta", Href: "http://partner.test/"}, []string{"cta", EventOutboundClick}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"), WithEnvironment(page))
			tr.TrackClick(tt.click)

			got := rec.Events()
			if len(got) != len(tt.want) {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("events[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTrackLink_RecordsOutboundEvenWhenUninitialized(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithEnvironment(Page{URL: "https://shop.test/"}))

	tr.TrackLink("https://partner.test/")
	tr.Call("init", "SITE-1")
	tr.Call("event", EventPageClose)

	reqs := rec.Requests()
	if len(reqs) != 1 {
		t.Fatalf("sent %d requests, want 1", len(reqs))
	}
	ed, _ := decodeBody(t, reqs[0])["ed"].(map[string]any)
	if ed[ExternalLinkField] != "https://partner.test/" {
		t.Errorf("ed = %v, want external_link", ed)
	}
}

func TestTrackLink_OutboundPayload(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"), WithEnvironment(Page{URL: "https://shop.test/"}))

	tr.TrackLink("https://partner.test/offer")

	ed, _ := decodeBody(t, rec.Requests()[0])["ed"].(map[string]any)
	if ed["href"] != "https://partner.test/offer" {
		t.Errorf("ed = %v, want href", ed)
	}
}
