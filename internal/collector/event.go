package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Wire formats an event can arrive in.
const (
	FormatJSON  = "json"
	FormatQuery = "query"
)

// Event is one received tracking request.
type Event struct {
	// Seq is the arrival sequence number, starting at 1.
	Seq uint64 `json:"seq"`

	// ReceivedAt is the collector's arrival timestamp.
	ReceivedAt time.Time `json:"received_at"`

	// Format is the wire format the event arrived in.
	Format string `json:"format"`

	// Name, TrackerID and VisitorID are copied from ev, id and uid.
	Name      string `json:"name"`
	TrackerID string `json:"tracker_id"`
	VisitorID string `json:"visitor_id"`

	// Attributes is the decoded attribute document.
	Attributes map[string]any `json:"attributes"`

	// Valid reports whether Attributes passed schema validation.
	Valid bool `json:"valid"`

	// Error holds the validation failure, if any.
	Error *string `json:"error"`
}

// typedQueryKeys are attributes whose query-string form is not a string.
var typedQueryKeys = map[string]string{
	"ts": "integer",
	"cd": "integer",
	"tz": "integer",
	"md": "boolean",
}

// decodeJSON parses a POSTed attribute document, keeping numbers exact.
func decodeJSON(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode body: trailing data")
	}
	if attrs == nil {
		return nil, fmt.Errorf("decode body: not an object")
	}
	return attrs, nil
}

// decodeQuery rebuilds the attribute document from a pixel request. Empty
// values are placeholders and decode to null. The first occurrence of a key
// wins.
func decodeQuery(rawQuery string) (map[string]any, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}

	attrs := make(map[string]any, len(values))
	for key, vs := range values {
		attrs[key] = queryAttr(key, vs[0])
	}
	return attrs, nil
}

func queryAttr(key, raw string) any {
	if raw == "" {
		return nil
	}

	switch typedQueryKeys[key] {
	case "integer":
		if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return json.Number(raw)
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}

	if key == "ed" && (strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[")) {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			return v
		}
	}
	return raw
}

func stringAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}
