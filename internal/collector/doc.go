// Package collector implements a development collection endpoint.
//
// The collector accepts tracking requests in both wire formats (GET pixel
// requests and POSTed JSON documents), validates each one against the
// protocol v1 JSON schema, and keeps a bounded history that can be read at
// "/api/events" or followed live at "/api/sse".
//
// It is meant for local development and tests, not production ingestion.
package collector
