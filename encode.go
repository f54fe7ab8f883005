package opix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Format selects the wire format for deliveries.
type Format int

const (
	// FormatJSON posts the attribute set as one ordered JSON object.
	FormatJSON Format = iota

	// FormatQuery sends a GET with every attribute as a query parameter,
	// the image-pixel protocol. Structured values are JSON-encoded.
	FormatQuery
)

// String returns the config name of f.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatQuery:
		return "query"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses a config name. Empty selects [FormatJSON].
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "query", "pixel":
		return FormatQuery, nil
	default:
		return 0, fmt.Errorf("unknown format %q (expected json or query)", s)
	}
}

// decodePayload parses strings shaped like a JSON object or array. Anything
// else, including malformed JSON, is returned unchanged.
func decodePayload(v any) any {
	s, ok := v.(string)
	if !ok || !(strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
		return v
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	// trailing garbage means it was not a single JSON document
	if dec.More() {
		return v
	}
	return out
}

// encodeJSON writes attrs as a JSON object in key order. Nil values are
// written as null placeholders.
func encodeJSON(attrs *Attributes) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range attrs.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		v, err := json.Marshal(attrs.values[key])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeQuery renders attrs as key=value pairs. Nil values become "k=".
func encodeQuery(attrs *Attributes) (string, error) {
	parts := make([]string, 0, len(attrs.keys))
	for _, key := range attrs.keys {
		s, err := queryValue(attrs.values[key])
		if err != nil {
			return "", fmt.Errorf("attribute %q: %w", key, err)
		}
		parts = append(parts, encodeURIComponent(key)+"="+encodeURIComponent(s))
	}
	return strings.Join(parts, "&"), nil
}

// queryValue stringifies v: strings verbatim, everything else as JSON.
func queryValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// uriComponentUnescaped are the marks encodeURIComponent leaves alone but
// url.QueryEscape escapes.
var uriComponentUnescaped = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent percent-encodes s like the browser function of that name.
func encodeURIComponent(s string) string {
	return uriComponentUnescaped.Replace(url.QueryEscape(s))
}

// buildRequest serialises attrs for endpoint in the given format.
func buildRequest(endpoint string, format Format, event string, attrs *Attributes) (Request, error) {
	switch format {
	case FormatQuery:
		qs, err := encodeQuery(attrs)
		if err != nil {
			return Request{}, err
		}
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		return Request{
			Event:  event,
			Method: http.MethodGet,
			URL:    endpoint + sep + qs,
		}, nil

	default:
		body, err := encodeJSON(attrs)
		if err != nil {
			return Request{}, err
		}
		return Request{
			Event:       event,
			Method:      http.MethodPost,
			URL:         endpoint,
			ContentType: "application/json",
			Body:        body,
		}, nil
	}
}
