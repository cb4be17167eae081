// Package cache is a read-through facade over a shared key-value store that
// protects the source of truth from penetration (repeated lookups for absent
// records) and breakdown (a stampede on a hot key that just expired).
//
// Three strategies are provided as generic functions over the cached value
// and id types:
//
//	QueryWithPassthrough   caches confirmed absence as an empty marker
//	QueryWithMutex         one rebuild per key behind a distributed lock
//	QueryWithLogicalExpire never blocks; stale values refresh in the background
//
// Values are stored as JSON. The empty string is reserved as the marker for a
// confirmed absence and is the same for every strategy.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rainbow-0328/dianping/internal/asyncqueue"
	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/lock"
	"github.com/Rainbow-0328/dianping/internal/logging"
)

// EmptyMarker is stored in place of a value the source of truth does not have.
const EmptyMarker = ""

const (
	DefaultNullTTL       = 2 * time.Minute
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultRebuildWorker = 10

	// LockKeyPrefix is prepended to a cache key to name its rebuild lock.
	LockKeyPrefix = "lock:"
)

// Loader fetches a record from the source of truth. found is false when the
// record does not exist; err is reserved for infrastructure failures.
type Loader[T any, ID any] func(ctx context.Context, id ID) (value T, found bool, err error)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// NullTTL bounds how long a confirmed absence is remembered.
	NullTTL time.Duration
	// LockTTL is the lifetime of a rebuild lock.
	LockTTL time.Duration
	// RetryInterval is the wait between mutex acquisition attempts.
	RetryInterval time.Duration
	// MaxAttempts caps mutex acquisition attempts. Defaults to LockTTL/RetryInterval.
	MaxAttempts int
	// Pool runs logical-expiry rebuilds. When nil the client creates and owns one.
	Pool *asyncqueue.WorkerPool
	// RebuildWorkers sizes the owned pool.
	RebuildWorkers int
	// Now is the clock used for logical expiry.
	Now func() time.Time
}

// Client implements the caching strategies against one store.
type Client struct {
	store         kv.Store
	locker        *lock.Locker
	pool          *asyncqueue.WorkerPool
	ownsPool      bool
	group         singleflight.Group
	nullTTL       time.Duration
	lockTTL       time.Duration
	retryInterval time.Duration
	maxAttempts   int
	now           func() time.Time
}

// New creates a Client over store.
func New(store kv.Store, opts Options) *Client {
	if opts.NullTTL <= 0 {
		opts.NullTTL = DefaultNullTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = lock.DefaultTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = int(opts.LockTTL / opts.RetryInterval)
		if opts.MaxAttempts < 1 {
			opts.MaxAttempts = 1
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Client{
		store:         store,
		locker:        lock.New(store, opts.LockTTL),
		pool:          opts.Pool,
		nullTTL:       opts.NullTTL,
		lockTTL:       opts.LockTTL,
		retryInterval: opts.RetryInterval,
		maxAttempts:   opts.MaxAttempts,
		now:           opts.Now,
	}
	if c.pool == nil {
		workers := opts.RebuildWorkers
		if workers <= 0 {
			workers = DefaultRebuildWorker
		}
		c.pool = NewRebuildPool(workers, 0, opts.LockTTL)
		c.pool.Start()
		c.ownsPool = true
	}
	return c
}

// NewRebuildPool creates an unstarted pool for logical-expiry rebuilds. Tasks
// are cancelled after lockTTL, the lifetime of the lock they run under, so a
// rebuild never overlaps one started by the lock's next holder.
func NewRebuildPool(workers, queueSize int, lockTTL time.Duration) *asyncqueue.WorkerPool {
	if lockTTL <= 0 {
		lockTTL = lock.DefaultTTL
	}
	return asyncqueue.New(asyncqueue.Config{
		Name:        "cache-rebuild",
		Workers:     workers,
		QueueSize:   queueSize,
		TaskTimeout: lockTTL,
	})
}

// Close stops the rebuild pool if the client created it. Queued rebuilds run
// to completion first.
func (c *Client) Close() {
	if c.ownsPool {
		c.pool.Stop()
	}
}

// Key joins a key prefix and an id.
func Key[ID any](prefix string, id ID) string {
	return prefix + fmt.Sprint(id)
}

// Set writes value as JSON with a store-level ttl.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(b), ttl)
}

// SetWithLogicalExpire writes value wrapped in a logical-expiry envelope. The
// key itself never expires.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	b, err := json.Marshal(logicalEntry{ExpireTime: c.now().Add(ttl), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(b), 0)
}

// Invalidate removes key so the next read reloads it.
func (c *Client) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Client) setEmpty(ctx context.Context, key string) error {
	return c.store.Set(ctx, key, EmptyMarker, c.nullTTL)
}

// flightTimeout bounds a collapsed mutex rebuild: every acquisition attempt
// plus one full lock lifetime for the load itself.
func (c *Client) flightTimeout() time.Duration {
	return time.Duration(c.maxAttempts)*c.retryInterval + c.lockTTL
}

func (c *Client) unlock(ctx context.Context, lease *lock.Lease) {
	if _, err := c.locker.Unlock(context.WithoutCancel(ctx), lease); err != nil {
		logging.Op().Warn("release rebuild lock failed", "key", lease.Key, "error", err)
	}
}

// logicalEntry is the stored shape for logical-expiry values.
type logicalEntry struct {
	ExpireTime time.Time       `json:"expireTime"`
	Data       json.RawMessage `json:"data"`
}
