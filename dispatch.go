package opix

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Lifecycle event names.
const (
	EventPageView  = "pageview"
	EventPageClose = "pageclose"

	// EventPageLoad is the legacy name for [EventPageView]. Both share one
	// once-only guard.
	EventPageLoad = "pageload"

	// EventOutboundClick is emitted by [Tracker.TrackClick] for external links.
	EventOutboundClick = "outbound_link_click"
)

// ExternalLinkField is merged into page-close payloads after a recent outbound click.
const ExternalLinkField = "external_link"

var (
	// ErrNotInitialized is returned when an event is dispatched before init.
	ErrNotInitialized = errors.New("tracker not initialized")

	// ErrAlreadySent is returned for a repeated lifecycle event; the repeat is a no-op.
	ErrAlreadySent = errors.New("lifecycle event already sent")
)

// Envelope is one event on its way to the delivery engine.
type Envelope struct {
	Name      string
	Timestamp time.Time
	Data      Value
}

// outboundClick records the most recent external link click.
type outboundClick struct {
	link string
	at   time.Time
}

// dispatch gates, timestamps and sends one event. Callers hold t.mu.
func (t *Tracker) dispatch(ctx context.Context, name string, data Value) error {
	if t.session.trackerID == "" {
		t.logger.Warn("tracker not initialized, event not sent", "event", name)
		return ErrNotInitialized
	}

	now := t.now()
	env := Envelope{Name: name, Timestamp: now, Data: data}

	switch name {
	case EventPageView, EventPageLoad:
		if t.session.pageViewSent {
			t.logger.Debug("page view already sent", "event", name)
			return ErrAlreadySent
		}
		t.session.pageViewSent = true
		if !t.session.capturedAt.IsZero() {
			env.Timestamp = t.session.capturedAt
		}

	case EventPageClose:
		if t.session.pageCloseSent {
			t.logger.Debug("page close already sent", "event", name)
			return ErrAlreadySent
		}
		t.session.pageCloseSent = true
		env.Data = t.correlateOutbound(now, env.Data)
	}

	return t.send(ctx, env)
}

// correlateOutbound merges the last outbound link into data when the click
// happened strictly within the correlation window. Object payloads (maps,
// structs and JSON marshalers) are copied with the link taking precedence;
// scalar and list payloads are replaced.
func (t *Tracker) correlateOutbound(now time.Time, data Value) Value {
	click := t.session.lastOutbound
	if click == nil || now.Sub(click.at) >= t.outboundWindow {
		return data
	}

	merged := map[string]any{}
	if resolved, err := data.Resolve(); err == nil {
		copyStringMap(merged, resolved)
	}
	merged[ExternalLinkField] = click.link
	return Literal(merged)
}

// copyStringMap copies the fields of src into dst when src encodes as a JSON
// object. Anything else is ignored.
func copyStringMap(dst map[string]any, src any) {
	if m, ok := src.(map[string]any); ok {
		for k, v := range m {
			dst[k] = v
		}
		return
	}

	rv := reflect.ValueOf(src)
	if !rv.IsValid() {
		return
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		iter := rv.MapRange()
		for iter.Next() {
			dst[iter.Key().String()] = iter.Value().Interface()
		}
		return
	}

	_, marshaler := src.(json.Marshaler)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !marshaler && rv.Kind() != reflect.Struct {
		return
	}

	b, err := json.Marshal(src)
	if err != nil {
		return
	}
	var fields map[string]any
	if json.Unmarshal(b, &fields) != nil {
		return
	}
	for k, v := range fields {
		dst[k] = v
	}
}

// send resolves, serialises and delivers env. Serialisation failure drops
// the event; nothing is retried.
func (t *Tracker) send(ctx context.Context, env Envelope) error {
	ctx, span := t.telemetry.startDispatch(ctx, env.Name)
	defer span.End()

	rc := &resolveContext{
		// identity reads are local; teardown must not blank them
		ctx:       context.WithoutCancel(ctx),
		envelope:  env,
		trackerID: t.session.trackerID,
		version:   t.version,
		env:       t.env,
		browser:   t.browser,
		identity:  t.identity,
	}
	attrs := t.resolveAttributes(rc, t.session.params)

	req, err := buildRequest(t.endpoint, t.format, env.Name, attrs)
	if err != nil {
		t.logger.Error("event serialization failed, event dropped",
			"event", env.Name,
			"error", err.Error(),
		)
		t.telemetry.dropped(ctx, span, env.Name, "serialization", err)
		return err
	}

	tier, err := t.deliver(ctx, req)
	if err != nil {
		t.logger.Error("event delivery failed, event dropped",
			"event", env.Name,
			"error", err.Error(),
		)
		t.telemetry.dropped(ctx, span, env.Name, "transport", err)
		return err
	}

	t.telemetry.sent(ctx, span, env.Name, tier)
	t.notify(SentEvent{
		Name:       env.Name,
		Timestamp:  env.Timestamp,
		Transport:  tier,
		Attributes: attrs,
		Request:    req,
	})
	return nil
}
