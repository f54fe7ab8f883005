package opix

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/jpalmerr/opix/identity"
)

// Built-in attribute keys. They are the versioned wire contract: renaming one
// requires a protocol version bump.
const (
	KeyTrackerID   = "id"
	KeyVisitorID   = "uid"
	KeyEvent       = "ev"
	KeyEventData   = "ed"
	KeyVersion     = "v"
	KeyLocation    = "dl"
	KeyReferrer    = "rl"
	KeyTimestamp   = "ts"
	KeyEncoding    = "de"
	KeyScreen      = "sr"
	KeyViewport    = "vp"
	KeyColorDepth  = "cd"
	KeyTitle       = "dt"
	KeyBrowser     = "bn"
	KeyMobile      = "md"
	KeyUserAgent   = "ua"
	KeyTimezone    = "tz"
	KeyUTMSource   = "utm_source"
	KeyUTMMedium   = "utm_medium"
	KeyUTMTerm     = "utm_term"
	KeyUTMContent  = "utm_content"
	KeyUTMCampaign = "utm_campaign"

	KeyUTMSourcePlatform  = "utm_source_platform"
	KeyUTMCreativeFormat  = "utm_creative_format"
	KeyUTMMarketingTactic = "utm_marketing_tactic"
)

// Attributes is an ordered attribute set. Overwriting a key keeps its
// original position.
type Attributes struct {
	keys   []string
	values map[string]any
}

// NewAttributes returns an empty set with room for n keys.
func NewAttributes(n int) *Attributes {
	return &Attributes{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// Set stores v under key, appending key if new.
func (a *Attributes) Set(key string, v any) {
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = v
}

// Get returns the value stored under key. A nil value with ok true is a placeholder.
func (a *Attributes) Get(key string) (v any, ok bool) {
	v, ok = a.values[key]
	return v, ok
}

// Keys returns the keys in order. The slice is a copy.
func (a *Attributes) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Len returns the number of keys.
func (a *Attributes) Len() int {
	return len(a.keys)
}

// MarshalJSON encodes the set as a JSON object preserving key order.
func (a *Attributes) MarshalJSON() ([]byte, error) {
	return encodeJSON(a)
}

// resolveContext is the read-only input to one resolution pass.
type resolveContext struct {
	ctx       context.Context
	envelope  Envelope
	trackerID string
	version   string
	env       Environment
	browser   Browser
	identity  *identity.Manager
}

type resolver struct {
	key     string
	resolve func(rc *resolveContext) (any, error)
}

// builtinResolvers is the registry, in wire order.
var builtinResolvers = []resolver{
	{KeyTrackerID, func(rc *resolveContext) (any, error) { return rc.trackerID, nil }},
	{KeyVisitorID, func(rc *resolveContext) (any, error) {
		if rc.identity == nil {
			return nil, nil
		}
		return rc.identity.VisitorID(rc.ctx)
	}},
	{KeyEvent, func(rc *resolveContext) (any, error) { return rc.envelope.Name, nil }},
	{KeyEventData, func(rc *resolveContext) (any, error) {
		data, err := rc.envelope.Data.Resolve()
		if err != nil {
			return nil, err
		}
		return decodePayload(data), nil
	}},
	{KeyVersion, func(rc *resolveContext) (any, error) { return rc.version, nil }},
	{KeyLocation, func(rc *resolveContext) (any, error) { return rc.env.Location(), nil }},
	{KeyReferrer, func(rc *resolveContext) (any, error) { return rc.env.Referrer(), nil }},
	{KeyTimestamp, func(rc *resolveContext) (any, error) { return rc.envelope.Timestamp.UnixMilli(), nil }},
	{KeyEncoding, func(rc *resolveContext) (any, error) { return canonicalCharset(rc.env.CharacterSet()), nil }},
	{KeyScreen, func(rc *resolveContext) (any, error) { return rc.env.ScreenSize().String(), nil }},
	{KeyViewport, func(rc *resolveContext) (any, error) { return rc.env.ViewportSize().String(), nil }},
	{KeyColorDepth, func(rc *resolveContext) (any, error) {
		if d := rc.env.ColorDepth(); d > 0 {
			return d, nil
		}
		return nil, nil
	}},
	{KeyTitle, func(rc *resolveContext) (any, error) { return rc.env.Title(), nil }},
	{KeyBrowser, func(rc *resolveContext) (any, error) { return rc.browser.NameAndVersion(rc.env.UserAgent()), nil }},
	{KeyMobile, func(rc *resolveContext) (any, error) {
		return rc.browser.IsMobile(rc.env.UserAgent()) || rc.env.MaxTouchPoints() > 0, nil
	}},
	{KeyUserAgent, func(rc *resolveContext) (any, error) { return rc.env.UserAgent(), nil }},
	{KeyTimezone, func(rc *resolveContext) (any, error) { return rc.env.TimezoneOffset(), nil }},
}

func init() {
	for _, key := range identity.CampaignKeys {
		builtinResolvers = append(builtinResolvers, resolver{key, campaignResolver(key)})
	}
}

func campaignResolver(key string) func(rc *resolveContext) (any, error) {
	return func(rc *resolveContext) (any, error) {
		if rc.identity == nil {
			return "", nil
		}
		return rc.identity.Campaign(rc.ctx, key)
	}
}

// BuiltinKeys returns the registry keys in wire order.
func BuiltinKeys() []string {
	keys := make([]string, len(builtinResolvers))
	for i, r := range builtinResolvers {
		keys[i] = r.key
	}
	return keys
}

// resolveAttributes evaluates every built-in resolver, then the custom
// params in registration order. A failing key becomes a nil placeholder.
func (t *Tracker) resolveAttributes(rc *resolveContext, params *paramSet) *Attributes {
	attrs := NewAttributes(len(builtinResolvers) + params.Len())

	for _, r := range builtinResolvers {
		attrs.Set(r.key, t.safeResolve(r.key, func() (any, error) { return r.resolve(rc) }))
	}

	for _, key := range params.keys {
		v := params.values[key]
		attrs.Set(key, t.safeResolve(key, v.Resolve))
	}
	return attrs
}

// safeResolve calls fn with panic recovery. Panics are logged with a
// correlation id and stack; both panics and errors yield a placeholder.
func (t *Tracker) safeResolve(key string, fn func() (any, error)) (v any) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			t.logger.Error("attribute resolver panic",
				"attribute", key,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			v = nil
		}
	}()

	v, err := fn()
	if err != nil {
		t.logger.Warn("attribute resolution failed",
			"attribute", key,
			"error", err.Error(),
		)
		return nil
	}
	if !IsPresent(v) {
		return nil
	}
	return v
}

// canonicalCharset maps a document encoding label to its WHATWG name.
// Unknown labels pass through unchanged.
func canonicalCharset(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return ""
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return label
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return label
	}
	return name
}

// paramSet holds custom params in registration order. Re-registering a key
// replaces its value in place.
type paramSet struct {
	keys   []string
	values map[string]Value
}

func newParamSet() *paramSet {
	return &paramSet{values: make(map[string]Value)}
}

func (p *paramSet) Set(key string, v Value) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

func (p *paramSet) Len() int {
	return len(p.keys)
}

// Size is a width by height pair in CSS pixels.
type Size struct {
	Width  int
	Height int
}

// String renders s as "WxH", or "" when either dimension is unknown.
func (s Size) String() string {
	if s.Width <= 0 || s.Height <= 0 {
		return ""
	}
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

// ParseSize parses "WxH".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("size %q must be WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: invalid width: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: invalid height: %w", s, err)
	}
	if width < 0 || height < 0 {
		return Size{}, fmt.Errorf("size %q: dimensions must not be negative", s)
	}
	return Size{Width: width, Height: height}, nil
}
