// Package identity persists visitor identity and campaign attribution.
//
// A [Store] is a small key-value jar with per-entry expiry, standing in for
// browser cookies. Three implementations are provided:
//
//   - [MemoryStore]: process-local, used by tests and short-lived trackers
//   - [SQLiteStore]: a durable file jar for command-line sessions
//   - [RedisStore]: a shared jar for services running several replicas
//
// [Manager] layers the tracking semantics on top: a long-lived visitor id
// and a session-scoped attribution record captured from landing URLs.
package identity
