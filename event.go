package opix

import "time"

// SentEvent describes an event that a transport tier accepted.
//
// SentEvent is passed to callbacks registered with [WithSentCallback]. The
// attribute set is the exact data serialised into Request; callbacks must
// treat both as read-only.
type SentEvent struct {
	// Name is the event name as dispatched.
	Name string

	// Timestamp is the event time sent as the ts attribute.
	Timestamp time.Time

	// Transport is the name of the tier that accepted the request.
	Transport string

	// Attributes is the resolved attribute set, in wire order.
	Attributes *Attributes

	// Request is the serialised delivery.
	Request Request
}

// notify invokes every sent callback in registration order.
func (t *Tracker) notify(ev SentEvent) {
	for _, cb := range t.sentCallbacks {
		t.invokeCallbackSafe(cb, ev)
	}
}

// invokeCallbackSafe calls a sent callback with panic recovery.
// Panics are logged but do not propagate.
func (t *Tracker) invokeCallbackSafe(cb func(SentEvent), ev SentEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("sent callback panicked",
				"panic", r,
				"event", ev.Name,
			)
		}
	}()
	cb(ev)
}
