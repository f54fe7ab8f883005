package opix

import (
	"context"
	"net/url"
)

// Click describes a click observed by a DOM delegate.
type Click struct {
	// Event is a custom event name attached to the clicked element, if any.
	Event string

	// Data is the payload attached alongside Event.
	Data any

	// Href is the link target when the click landed on an anchor.
	Href string
}

// PageHide is the page teardown listener. It dispatches page close at most
// once, independently of the dispatcher's own guard.
func (t *Tracker) PageHide() {
	t.mu.Lock()
	fired := t.session.pageHideFired
	t.session.pageHideFired = true
	ctx := t.pageCtx
	t.mu.Unlock()

	if fired {
		t.logger.Debug("page hide already handled")
		return
	}
	t.CallContext(ctx, VerbEvent, EventPageClose)
}

// WatchTeardown calls [Tracker.PageHide] when ctx ends. The returned function
// detaches the watcher and reports whether it did so before firing.
func (t *Tracker) WatchTeardown(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, t.PageHide)
}

// TrackClick dispatches the element's custom event, if any, and records
// external link clicks for page-close correlation.
func (t *Tracker) TrackClick(c Click) {
	if c.Event != "" {
		t.Call(VerbEvent, c.Event, c.Data)
	}
	if c.Href == "" || !t.isExternal(c.Href) {
		return
	}

	t.mu.Lock()
	t.session.lastOutbound = &outboundClick{link: c.Href, at: t.now()}
	t.mu.Unlock()

	t.Call(VerbEvent, EventOutboundClick, map[string]any{"href": c.Href})
}

// TrackLink is shorthand for a click on a plain anchor.
func (t *Tracker) TrackLink(href string) {
	t.TrackClick(Click{Href: href})
}

// isExternal reports whether href is an http(s) link to another host than
// the current page.
func (t *Tracker) isExternal(href string) bool {
	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	page, err := url.Parse(t.env.Location())
	if err != nil {
		return true
	}
	return u.Hostname() != page.Hostname()
}
