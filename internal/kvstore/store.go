package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("key not found")

// Store is the capability the gateway needs from the shared key-value
// store. All coordination between stateless server processes goes
// through these single-key operations; there are no locks or
// transactions, so multi-key invariants are best-effort.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes key with the given TTL. A zero TTL stores the key
	// without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del deletes the given keys, ignoring those that do not exist.
	Del(ctx context.Context, keys ...string) error
	// Keys returns all keys matching the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// TTL returns the remaining TTL for key. It returns -1 for a key
	// that exists without expiry and ErrNotFound for a missing key.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire applies a TTL to an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Incr atomically increments an integer value, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
}
