// Package transport delivers tracking requests to a collector over HTTP.
//
// This package is internal to opix and provides the two delivery tiers:
//
//   - [Beacon]: a bounded, rate-limited queue drained by a worker pool that
//     survives page teardown
//   - [Fetcher]: asynchronous keep-alive requests bounded by a timeout
//
// Both share a pooled [Client]. Users of the opix library configure delivery
// through the root package options.
package transport
