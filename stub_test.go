package opix

import (
	"context"
	"sync"
	"testing"
)

func TestStub_QueuesUntilLoad(t *testing.T) {
	tr, rec, _ := newTestTracker(t)
	stub := NewStub(testEpoch)

	stub.Call("init", "SITE-1")
	stub.Call("param", "plan", "pro")
	stub.Call("event", EventPageView)
	stub.Call("event", "signup")

	if stub.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", stub.Len())
	}
	if n := len(rec.Requests()); n != 0 {
		t.Fatalf("sent %d requests before Load", n)
	}

	if err := tr.Load(context.Background(), stub); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if stub.Len() != 0 {
		t.Errorf("Len() after Load = %d, want 0", stub.Len())
	}
	got := rec.Events()
	if len(got) != 2 || got[0] != EventPageView || got[1] != "signup" {
		t.Fatalf("events = %v, want [pageview signup]", got)
	}
	body := decodeBody(t, rec.Requests()[0])
	if body["id"] != "SITE-1" || body["plan"] != "pro" {
		t.Errorf("replayed body = %v, want id and plan from queued calls", body)
	}
}

func TestStub_ReplayPreservesOrder(t *testing.T) {
	tr, rec, _ := newTestTracker(t)
	stub := NewStub(testEpoch)

	// event before init is rejected, exactly as it would be live
	stub.Call("event", "early")
	stub.Call("init", "SITE-1")
	stub.Call("event", "late")

	if err := tr.Load(context.Background(), stub); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := rec.Events(); len(got) != 1 || got[0] != "late" {
		t.Errorf("events = %v, want [late]", got)
	}
}

func TestStub_PassThroughAfterAttach(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))
	stub := NewStub(testEpoch)

	if err := tr.Load(context.Background(), stub); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	stub.Call("event", "after")

	if stub.Len() != 0 {
		t.Errorf("Len() = %d, want 0", stub.Len())
	}
	if got := rec.Events(); len(got) != 1 || got[0] != "after" {
		t.Errorf("events = %v, want [after]", got)
	}
}

func TestStub_CopiesArgs(t *testing.T) {
	stub := NewStub(testEpoch)
	args := []any{"SITE-1"}
	stub.Call("init", args...)
	args[0] = "mutated"

	tr, _, _ := newTestTracker(t)
	if err := tr.Load(context.Background(), stub); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tr.TrackerID() != "SITE-1" {
		t.Errorf("TrackerID() = %q, want SITE-1", tr.TrackerID())
	}
}

func TestStub_ConcurrentCallsDuringLoad(t *testing.T) {
	tr, rec, _ := newTestTracker(t, WithTrackerID("SITE-1"))
	stub := NewStub(testEpoch)
	for i := 0; i < 10; i++ {
		stub.Call("event", "queued")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = tr.Load(context.Background(), stub)
	}()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stub.Call("event", "concurrent")
		}()
	}
	wg.Wait()

	if n := len(rec.Requests()); n != 20 {
		t.Errorf("sent %d events, want 20", n)
	}
	// pre-queued events always go out first
	events := rec.Events()
	seenConcurrent := false
	for _, ev := range events {
		if ev == "concurrent" {
			seenConcurrent = true
		}
		if ev == "queued" && seenConcurrent {
			t.Fatalf("queued event delivered after a live one: %v", events)
		}
	}
}

func TestLoad_Twice(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	if err := tr.Load(context.Background(), nil); err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
	if err := tr.Load(context.Background(), nil); err == nil {
		t.Error("second Load() expected error")
	}
}
