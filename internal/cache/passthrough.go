package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Rainbow-0328/dianping/internal/kv"
	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/metrics"
)

const (
	strategyPassthrough = "passthrough"
	strategyMutex       = "mutex"
	strategyLogical     = "logical"
)

type lookupState int

const (
	stateMiss lookupState = iota
	stateEmpty
	stateHit
)

// readPlain reads a value written by Set. A value that no longer decodes as T
// is reported as a miss so it gets rebuilt.
func readPlain[T any](ctx context.Context, c *Client, key string) (T, lookupState, error) {
	var zero T
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return zero, stateMiss, nil
	}
	if err != nil {
		return zero, stateMiss, err
	}
	if raw == EmptyMarker {
		return zero, stateEmpty, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		logging.Op().Warn("discarding undecodable cache entry", "key", key, "error", err)
		return zero, stateMiss, nil
	}
	return v, stateHit, nil
}

// QueryWithPassthrough reads id through the cache. A record the loader cannot
// find is remembered as an empty marker for the client's null TTL, so repeated
// lookups stop reaching the source of truth. Concurrent misses are not
// coordinated and may each invoke loader.
func QueryWithPassthrough[T any, ID any](ctx context.Context, c *Client, keyPrefix string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	var zero T
	key := Key(keyPrefix, id)

	v, state, err := readPlain[T](ctx, c, key)
	if err != nil {
		return zero, false, err
	}
	switch state {
	case stateHit:
		metrics.RecordCacheLookup(strategyPassthrough, "hit")
		return v, true, nil
	case stateEmpty:
		metrics.RecordCacheLookup(strategyPassthrough, "empty")
		return zero, false, nil
	}

	metrics.RecordCacheLookup(strategyPassthrough, "miss")
	return loadAndStore(ctx, c, strategyPassthrough, key, id, loader, ttl)
}

// loadAndStore invokes loader and writes either the value or the empty marker.
func loadAndStore[T any, ID any](ctx context.Context, c *Client, strategy, key string, id ID, loader Loader[T, ID], ttl time.Duration) (T, bool, error) {
	var zero T
	start := time.Now()
	v, found, err := loader(ctx, id)
	if err != nil {
		metrics.RecordRebuild(strategy, "error", time.Since(start))
		return zero, false, err
	}
	if !found {
		metrics.RecordRebuild(strategy, "absent", time.Since(start))
		if err := c.setEmpty(ctx, key); err != nil {
			return zero, false, err
		}
		return zero, false, nil
	}
	metrics.RecordRebuild(strategy, "ok", time.Since(start))
	if err := c.Set(ctx, key, v, ttl); err != nil {
		return zero, false, err
	}
	return v, true, nil
}
