package opix

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Environment reports facts about the page being tracked. Implementations are
// read at send time and must be safe to call from the tracker's goroutine.
//
// Unknown sizes and colour depth are reported as zero and sent as placeholders.
// The timezone offset is always sent; zero means UTC.
type Environment interface {
	Location() string
	Referrer() string
	Title() string
	CharacterSet() string
	ScreenSize() Size
	ViewportSize() Size
	ColorDepth() int
	// TimezoneOffset is minutes behind UTC, positive west of Greenwich.
	// There is no unknown value: zero is UTC.
	TimezoneOffset() int
	UserAgent() string
	MaxTouchPoints() int
}

// Page is a static [Environment]. The zero OffsetMinutes is UTC, so a page
// in another zone must set it (see [TimezoneOffsetAt]).
type Page struct {
	URL           string
	ReferrerURL   string
	DocumentTitle string
	Charset       string
	Screen        Size
	Viewport      Size
	Depth         int
	OffsetMinutes int
	Agent         string
	TouchPoints   int
}

func (p Page) Location() string     { return p.URL }
func (p Page) Referrer() string     { return p.ReferrerURL }
func (p Page) Title() string        { return p.DocumentTitle }
func (p Page) CharacterSet() string { return p.Charset }
func (p Page) ScreenSize() Size     { return p.Screen }
func (p Page) ViewportSize() Size   { return p.Viewport }
func (p Page) ColorDepth() int      { return p.Depth }
func (p Page) TimezoneOffset() int  { return p.OffsetMinutes }
func (p Page) UserAgent() string    { return p.Agent }
func (p Page) MaxTouchPoints() int  { return p.TouchPoints }

// RequestEnvironment derives a [Page] from an incoming HTTP request, for
// tracking page views on the server side.
//
// The location is rebuilt from Host and the request URI, honouring
// X-Forwarded-Proto. Viewport and touch support come from client hints
// (Viewport-Width, Sec-CH-Viewport-Height) when the browser sends them.
func RequestEnvironment(r *http.Request) Page {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	page := Page{
		URL:         scheme + "://" + r.Host + r.URL.RequestURI(),
		ReferrerURL: r.Referer(),
		Charset:     charsetFromAccept(r.Header.Get("Accept-Charset")),
		Agent:       r.UserAgent(),
	}

	width := headerInt(r, "Sec-CH-Viewport-Width")
	if width == 0 {
		width = headerInt(r, "Viewport-Width")
	}
	page.Viewport = Size{Width: width, Height: headerInt(r, "Sec-CH-Viewport-Height")}

	if r.Header.Get("Sec-CH-UA-Mobile") == "?1" {
		page.TouchPoints = 1
	}
	return page
}

func headerInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(name)))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// charsetFromAccept returns the first charset listed, ignoring q-values.
func charsetFromAccept(h string) string {
	if h == "" {
		return ""
	}
	first := strings.TrimSpace(strings.Split(h, ",")[0])
	first, _, _ = strings.Cut(first, ";")
	if first == "*" {
		return ""
	}
	return strings.TrimSpace(first)
}

// TimezoneOffsetAt returns the offset of t's zone in the convention
// [Environment.TimezoneOffset] uses: minutes, positive west of UTC.
func TimezoneOffsetAt(t time.Time) int {
	_, offset := t.Zone()
	return -offset / 60
}
