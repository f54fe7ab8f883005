// Package opix is an embeddable page telemetry client.
//
// A page talks to the tracker through a single invocation surface with
// three verbs. init binds the tracker id, param registers a custom
// attribute, and event dispatches a named event. Every dispatched event is
// enriched with a fixed set of built-in attributes (visitor id, page facts,
// device facts, campaign attribution) followed by the custom parameters,
// serialised, and handed to the best available transport tier.
//
// # Quick Start
//
//	tr, _ := opix.New(opix.WithEndpoint("https://collect.example.com/p"))
//	defer tr.Close(context.Background())
//
//	tr.Load(ctx, nil)
//	tr.Call("init", "SITE-123")
//	tr.Call("param", "plan", "pro")
//	tr.Call("event", "pageview")
//
// # Early Invocations
//
// Invocations made before the tracker exists are queued on a [Stub] and
// replayed in order by [Tracker.Load]:
//
//	stub := opix.NewStub(time.Now())
//	stub.Call("init", "SITE-123")
//	stub.Call("event", "pageview")
//	// ...
//	tr.Load(ctx, stub)
//
// The stub's creation time becomes the page view timestamp.
//
// # Lifecycle Events
//
// "pageview" and "pageclose" are sent at most once per tracker. A page
// close sent shortly after an outbound link click (see [Tracker.TrackLink])
// carries the link under [ExternalLinkField].
//
// # Attribute Values
//
// Parameter values and event payloads may be literals or deferred
// producers ([Deferred]), evaluated on every dispatch. A producer that fails
// or yields an absent value is sent as an empty placeholder.
//
// # Delivery
//
// The default chain is a detached beacon queue followed by a keep-alive
// fetch; both outlive page teardown. Each tier is tried once; there is no retry. Custom chains are set
// with [WithTransports].
//
// # Architecture
//
//   - identity: Visitor id and campaign persistence (memory, SQLite, Redis)
//   - internal/transport: Pooled HTTP client, beacon queue, fetch tier
//   - internal/collector: Development collector with live event stream
//   - config: YAML and environment configuration for the CLI
//
// The internal packages are not part of the public API and may change
// without notice.
package opix
