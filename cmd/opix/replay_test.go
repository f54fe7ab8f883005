package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/opix"
)

func TestRunReplay(t *testing.T) {
	endpoint, st := startCollector(t)
	configPath := writeFile(t, "opix.yaml", "endpoint: "+endpoint+"\nlog:\n  level: error\n")
	replayPath := writeFile(t, "visit.yaml", `
captured_at: 2024-03-01T12:00:00Z
calls:
  - [event, early]
  - [init, SITE-R]
  - [param, plan, pro]
  - [event, pageview]
  - [event, signup, {seats: 3}]
  - [bogus]
  - [event, pageview]
`)

	output, err := executeCmd(t, "replay", "-c", configPath, "-f", replayPath)
	if err != nil {
		t.Fatalf("replay command error = %v", err)
	}
	if !strings.Contains(output, "7 calls replayed, 3 events sent") {
		t.Errorf("output = %q", output)
	}

	// early is dropped before init; the second pageview is a repeat
	want := []string{opix.EventPageView, "signup", opix.EventPageClose}
	if got := eventNames(st); !sameElements(got, want) {
		t.Fatalf("collected = %v, want %v", got, want)
	}

	captured := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	for _, ev := range st.Recent(0) {
		if ev.TrackerID != "SITE-R" || ev.Attributes["plan"] != "pro" {
			t.Errorf("event %s = %+v", ev.Name, ev)
		}
		if ev.Name != opix.EventPageView {
			continue
		}
		ts, ok := ev.Attributes["ts"].(json.Number)
		if !ok {
			t.Fatalf("pageview ts = %T, want json.Number", ev.Attributes["ts"])
		}
		if got, _ := ts.Int64(); got != captured {
			t.Errorf("pageview ts = %d, want capture time %d", got, captured)
		}
	}
}

func TestRunReplay_NoTeardown(t *testing.T) {
	endpoint, st := startCollector(t)
	configPath := writeFile(t, "opix.yaml", "endpoint: "+endpoint+"\nlog:\n  level: error\n")
	replayPath := writeFile(t, "visit.yaml", "calls:\n  - [init, SITE-R]\n  - [event, pageview]\n")

	if _, err := executeCmd(t, "replay", "-c", configPath, "-f", replayPath, "--no-teardown"); err != nil {
		t.Fatalf("replay command error = %v", err)
	}
	if got := eventNames(st); len(got) != 1 || got[0] != opix.EventPageView {
		t.Errorf("collected = %v, want [pageview]", got)
	}
}

func TestLoadReplay_Errors(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantErrLike string
	}{
		{"no calls", "calls: []", "no calls"},
		{"empty call", "calls:\n  - []", "calls[0]: empty call"},
		{"verb not a string", "calls:\n  - [init, S]\n  - [3, x]", "calls[1]: verb must be a string"},
		{"invalid yaml", "calls: [unclosed", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadReplay(writeFile(t, "visit.yaml", tt.content))
			if err == nil {
				t.Fatal("loadReplay() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %v, want to contain %q", err, tt.wantErrLike)
			}
		})
	}

	if _, err := loadReplay("/nonexistent/visit.yaml"); err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("loadReplay(missing) error = %v", err)
	}
}

func TestRunReplay_RequiresFile(t *testing.T) {
	_, err := executeCmd(t, "replay")
	if err == nil {
		t.Fatal("replay command expected error without --file, got nil")
	}
}
