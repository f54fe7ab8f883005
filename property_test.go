package opix

import (
	"bytes"
	"context"
	"net/url"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jpalmerr/opix/identity"
)

type scriptedCall struct {
	verb string
	args []any
}

// script maps generated op codes onto a small invocation vocabulary.
func script(ops []int) []scriptedCall {
	calls := make([]scriptedCall, len(ops))
	for i, op := range ops {
		switch op {
		case 0:
			calls[i] = scriptedCall{"init", []any{"S1"}}
		case 1:
			calls[i] = scriptedCall{"init", []any{"S2"}}
		case 2:
			calls[i] = scriptedCall{"param", []any{"p", i}}
		case 3:
			calls[i] = scriptedCall{"event", []any{EventPageView}}
		case 4:
			calls[i] = scriptedCall{"event", []any{EventPageClose}}
		case 5:
			calls[i] = scriptedCall{"event", []any{"custom", map[string]any{"n": i}}}
		default:
			calls[i] = scriptedCall{"bogus", nil}
		}
	}
	return calls
}

func TestProperty_ReplayEquivalentToLive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("queued then replayed equals invoked after load", prop.ForAll(
		func(ops []int) bool {
			calls := script(ops)
			store := identity.NewMemoryStore()
			ctx := context.Background()

			queuedTr, queuedRec, _ := newTestTracker(t, WithIdentityStore(store))
			stub := NewStub(testEpoch)
			for _, c := range calls {
				stub.Call(c.verb, c.args...)
			}
			if err := queuedTr.Load(ctx, stub); err != nil {
				return false
			}

			liveTr, liveRec, _ := newTestTracker(t, WithIdentityStore(store))
			if err := liveTr.Load(ctx, NewStub(testEpoch)); err != nil {
				return false
			}
			for _, c := range calls {
				liveTr.Call(c.verb, c.args...)
			}

			a, b := queuedRec.Requests(), liveRec.Requests()
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].URL != b[i].URL || !bytes.Equal(a[i].Body, b[i].Body) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 6)),
	))

	properties.TestingRun(t)
}

func TestProperty_EveryBuiltinKeyPresent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("payload carries every built-in key", prop.ForAll(
		func(location, title, agent string) bool {
			tr, rec, _ := newTestTracker(t,
				WithTrackerID("S"),
				WithEnvironment(Page{URL: location, DocumentTitle: title, Agent: agent}),
			)
			tr.Call("event", "x")

			reqs := rec.Requests()
			if len(reqs) != 1 {
				return false
			}
			body := decodeBody(t, reqs[0])
			for _, k := range BuiltinKeys() {
				if _, ok := body[k]; !ok {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestProperty_URIComponentRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("percent-decoding restores the input", prop.ForAll(
		func(s string) bool {
			got, err := url.PathUnescape(encodeURIComponent(s))
			return err == nil && got == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
