package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBodySize = 64 << 10 // collectors answer with tiny bodies

// connection pooling limits; trackers talk to a single collector host
const (
	defaultMaxIdleConns        = 16
	defaultMaxIdleConnsPerHost = 8
	defaultMaxConnsPerHost     = 16
	defaultIdleConnTimeout     = 90 * time.Second
)

// Request is a single outbound delivery.
type Request struct {
	// Method is the HTTP method. Empty defaults to GET.
	Method string

	// URL is the fully built collector URL, including any query string.
	URL string

	// ContentType is sent as the Content-Type header when Body is non-empty.
	ContentType string

	// Body is the request payload; nil for query-string deliveries.
	Body []byte
}

// Response holds the outcome of a request made by [Client].
//
// Errors are captured in the Error field rather than returned separately, so
// callers can log one value per delivery.
type Response struct {
	// StatusCode is zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Error is non-nil on transport failure or a non-2xx status.
	Error error
}

// Client is an HTTP client wrapper for collector deliveries.
//
// Timeouts are applied per request via context so the beacon and fetch tiers
// can use different budgets. Keep-alive is enabled so the fetch tier reuses
// connections across events.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a [Client] with a pooled transport.
func NewClient() *Client {
	return NewClientWithHTTP(&http.Client{
		// no default timeout - per-request timeouts via context
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			MaxConnsPerHost:     defaultMaxConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			DisableKeepAlives:   false,
		},
	})
}

// NewClientWithHTTP wraps an existing *http.Client.
func NewClientWithHTTP(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{httpClient: hc}
}

// Do sends req with the given timeout and drains the response body.
func (c *Client) Do(ctx context.Context, req Request, timeout time.Duration) Response {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("failed to create request: %w", err),
		}
	}
	if body != nil && req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{
			Latency: time.Since(start),
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	// drain so the connection returns to the pool
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))

	out := Response{
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Error = fmt.Errorf("collector responded %d", resp.StatusCode)
	}
	return out
}

// Close closes idle connections in the pool. Safe to call multiple times.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
