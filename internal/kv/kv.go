// Package kv defines the key-value store contract the cache, lock and id
// generator are built on. Values are strings so that an empty string can act
// as a stored value distinct from a missing key.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// ErrNotInteger is returned by Incr when the key holds a non-integer value.
var ErrNotInteger = errors.New("kv: value is not an integer")

// Store abstracts a shared key-value store with TTL support.
// All operations are safe for concurrent use.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A zero ttl stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether this call
	// created it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if its current value equals expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// unavailable tags an infrastructure failure so callers can tell it apart
// from a missing key.
func unavailable(op string, err error) error {
	return fmt.Errorf("kv %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
