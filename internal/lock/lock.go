// Package lock implements a short-lived distributed mutex on top of a
// key-value store's set-if-absent primitive.
//
// Each acquisition stores a random token under the lock key. Unlock deletes
// the key only while it still holds that token, so a holder whose critical
// section outlived the TTL cannot release a lock that a later holder has
// since acquired. The TTL bounds how long a crashed holder can block others;
// it does not make a slow critical section exclusive once the TTL has passed.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/metrics"
)

// DefaultTTL matches the rebuild lock lifetime used by the cache.
const DefaultTTL = 10 * time.Second

// Lease is proof of one lock acquisition.
type Lease struct {
	Key   string
	Token string
}

// Locker issues leases against a shared store.
type Locker struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a Locker. ttl <= 0 uses DefaultTTL.
func New(store kv.Store, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{store: store, ttl: ttl}
}

// TTL returns the lease lifetime.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// TryLock attempts to acquire key without waiting. It returns a nil lease and
// false when another holder owns the key. A store failure is returned as an
// error, never as "not acquired".
func (l *Locker) TryLock(ctx context.Context, key string) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, err
	}
	metrics.RecordLockAttempt(ok)
	if !ok {
		return nil, false, nil
	}
	return &Lease{Key: key, Token: token}, true, nil
}

// Unlock releases the lease if it is still the current holder. It reports
// false when the lease had already expired or been taken over.
func (l *Locker) Unlock(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	return l.store.CompareAndDelete(ctx, lease.Key, lease.Token)
}
