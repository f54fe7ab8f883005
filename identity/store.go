package identity

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] when the key is absent or expired.
var ErrNotFound = errors.New("identity: key not found")

// Store is the key-value jar backing visitor identity and campaign attribution.
//
// Each entry carries its own expiry. A ttl of zero or less stores a
// session-scoped entry: it lives until [Store.EndSession] is called, the way
// a browser drops session cookies when the window closes.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Get returns the value for key, or [ErrNotFound].
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key with the given lifetime.
	// Writing an existing key replaces both value and expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// EndSession drops every session-scoped entry.
	EndSession(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
