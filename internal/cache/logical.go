package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/metrics"
	"github.com/Rainbow-0328/dianping/internal/observability"
)

// readLogical decodes a logical-expiry entry. ok is false when the key holds
// something other than an envelope and should be bootstrapped again.
func readLogical[T any](raw string) (v T, expireAt time.Time, ok bool) {
	var entry logicalEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Data == nil {
		return v, expireAt, false
	}
	if err := json.Unmarshal(entry.Data, &v); err != nil {
		return v, expireAt, false
	}
	return v, entry.ExpireTime, true
}

// QueryWithLogicalExpire serves id from an entry that carries its own expiry
// and never blocks on a rebuild. An expired entry is returned as is while one
// caller takes the rebuild lock and hands the refresh to the rebuild pool.
// The refresh writes a new envelope expiring ttl from its completion.
//
// A key that was never warmed is loaded and written on the calling goroutine
// with passthrough semantics.
func QueryWithLogicalExpire[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	var zero T
	key := Key(keyPrefix, id)

	raw, err := c.store.Get(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return zero, false, err
	}
	if err == nil && raw == EmptyMarker {
		metrics.RecordCacheLookup(strategyLogical, "empty")
		return zero, false, nil
	}

	var (
		v        T
		expireAt time.Time
		ok       bool
	)
	if err == nil {
		v, expireAt, ok = readLogical[T](raw)
	}
	if !ok {
		metrics.RecordCacheLookup(strategyLogical, "bootstrap")
		return warm(ctx, c, strategyLogical, key, id, loader, ttl)
	}

	if c.now().Before(expireAt) {
		metrics.RecordCacheLookup(strategyLogical, "hit")
		return v, true, nil
	}

	metrics.RecordCacheLookup(strategyLogical, "stale")
	// the rebuild must finish while the lease is still ours, queue time included
	leaseDeadline := time.Now().Add(c.lockTTL)
	lease, acquired, err := c.locker.TryLock(ctx, LockKeyPrefix+key)
	if err != nil {
		logging.Op().Warn("rebuild lock unavailable, serving stale", "key", key, "error", err)
		return v, true, nil
	}
	if !acquired {
		return v, true, nil
	}

	// a rebuild may have finished between our read and the lock
	if raw, err := c.store.Get(ctx, key); err == nil {
		if fresh, at, ok := readLogical[T](raw); ok && c.now().Before(at) {
			c.unlock(ctx, lease)
			return fresh, true, nil
		}
	}

	submitted := c.pool.Submit(func(taskCtx context.Context) {
		defer c.unlock(taskCtx, lease)
		taskCtx, cancel := context.WithDeadline(taskCtx, leaseDeadline)
		defer cancel()
		taskCtx, span := observability.StartSpan(taskCtx, "cache.rebuild",
			observability.AttrCacheKey.String(key),
			observability.AttrCacheStrategy.String(strategyLogical),
		)
		defer span.End()
		_, found, err := warm(taskCtx, c, strategyLogical, key, id, loader, ttl)
		if err != nil {
			observability.SetSpanError(span, err)
			logging.Op().Warn("logical rebuild failed", "key", key, "error", err)
			return
		}
		span.SetAttributes(observability.AttrCacheOutcome.String(rebuildOutcome(found)))
	})
	if !submitted {
		metrics.RecordRebuildRejected()
		logging.Op().Warn("rebuild pool saturated, serving stale", "key", key)
		c.unlock(ctx, lease)
	}
	return v, true, nil
}

// Warm loads id and writes it as a logical-expiry entry. A record the loader
// cannot find is written as the empty marker with the null TTL.
func Warm[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[T, ID], ttl time.Duration) (bool, error) {
	_, found, err := warm(ctx, c, "warm", Key(keyPrefix, id), id, loader, ttl)
	return found, err
}

func warm[T any, ID any](ctx context.Context, c *Client, strategy, key string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	var zero T
	start := time.Now()
	v, found, err := loader(ctx, id)
	if err != nil {
		metrics.RecordRebuild(strategy, "error", time.Since(start))
		return zero, false, err
	}
	// a rebuild that outlived its lock must not overwrite a newer one
	if err := ctx.Err(); err != nil {
		metrics.RecordRebuild(strategy, "error", time.Since(start))
		return zero, false, err
	}
	if !found {
		metrics.RecordRebuild(strategy, "absent", time.Since(start))
		return zero, false, c.setEmpty(ctx, key)
	}
	metrics.RecordRebuild(strategy, "ok", time.Since(start))
	if err := c.SetWithLogicalExpire(ctx, key, v, ttl); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func rebuildOutcome(found bool) string {
	if found {
		return "refreshed"
	}
	return "absent"
}
