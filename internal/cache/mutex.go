package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Rainbow-0328/dianping/internal/domain"
	"github.com/Rainbow-0328/dianping/internal/lock"
	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/metrics"
	"github.com/Rainbow-0328/dianping/internal/observability"
)

type mutexResult[T any] struct {
	value T
	found bool
}

// QueryWithMutex reads id through the cache and rebuilds a miss under a
// distributed lock so that only one caller across all instances reaches the
// source of truth. Callers that lose the lock wait RetryInterval and reread,
// up to MaxAttempts, after which domain.ErrLockUnavailable is returned.
//
// Concurrent misses within one Client are collapsed before they contend on
// the lock. The collapsed work does not inherit any one caller's
// cancellation; each caller stops waiting when its own ctx is done.
func QueryWithMutex[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	var zero T
	key := Key(keyPrefix, id)

	// the value type is part of the flight key so callers decoding the same
	// key into different types never share a result
	flight := fmt.Sprintf("%s|%T", key, zero)
	ch := c.group.DoChan(flight, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()
		v, found, err := queryMutex(shared, c, key, id, loader, ttl)
		return mutexResult[T]{value: v, found: found}, err
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, false, r.Err
		}
		res, ok := r.Val.(mutexResult[T])
		if !ok {
			return zero, false, fmt.Errorf("rebuild %s: unexpected result type %T", key, r.Val)
		}
		return res.value, res.found, nil
	}
}

func queryMutex[T any, ID any](ctx context.Context, c *Client, key string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	var zero T
	lockKey := LockKeyPrefix + key

	for attempt := 1; ; attempt++ {
		v, state, err := readPlain[T](ctx, c, key)
		if err != nil {
			return zero, false, err
		}
		switch state {
		case stateHit:
			metrics.RecordCacheLookup(strategyMutex, "hit")
			return v, true, nil
		case stateEmpty:
			metrics.RecordCacheLookup(strategyMutex, "empty")
			return zero, false, nil
		}

		lease, ok, err := c.locker.TryLock(ctx, lockKey)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return rebuildLocked(ctx, c, lease, key, id, loader, ttl)
		}

		if attempt >= c.maxAttempts {
			metrics.RecordCacheLookup(strategyMutex, "lock_timeout")
			return zero, false, fmt.Errorf("rebuild %s after %d attempts: %w", key, attempt, domain.ErrLockUnavailable)
		}
		logging.Op().Debug("rebuild lock busy", "key", key, "attempt", attempt)

		timer := time.NewTimer(c.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false, ctx.Err()
		case <-timer.C:
		}
	}
}

func rebuildLocked[T any, ID any](ctx context.Context, c *Client, lease *lock.Lease, key string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	defer c.unlock(ctx, lease)

	// another holder may have rebuilt the key between our read and the lock
	v, state, err := readPlain[T](ctx, c, key)
	if err != nil {
		var zero T
		return zero, false, err
	}
	switch state {
	case stateHit:
		metrics.RecordCacheLookup(strategyMutex, "hit")
		return v, true, nil
	case stateEmpty:
		metrics.RecordCacheLookup(strategyMutex, "empty")
		var zero T
		return zero, false, nil
	}

	metrics.RecordCacheLookup(strategyMutex, "miss")
	ctx, span := observability.StartSpan(ctx, "cache.rebuild",
		observability.AttrCacheKey.String(key),
		observability.AttrCacheStrategy.String(strategyMutex),
	)
	defer span.End()

	v, found, err := loadAndStore(ctx, c, strategyMutex, key, id, loader, ttl)
	if err != nil {
		observability.SetSpanError(span, err)
		return v, found, err
	}
	span.SetAttributes(observability.AttrCacheOutcome.String(rebuildOutcome(found)))
	observability.SetSpanOK(span)
	return v, found, nil
}
