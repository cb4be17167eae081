package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rainbow-0328/dianping/internal/logging"
)

// probeInterval is the minimum time between health probes of the primary backend.
const probeInterval = 5 * time.Second

const probeKey = "probe:health"

// FallbackBackend uses a primary backend (normally Redis) and switches to
// local buckets while the primary is failing. In degraded mode it probes the
// primary at most once per probeInterval and switches back once a probe
// succeeds.
type FallbackBackend struct {
	primary   Backend
	local     *LocalBackend
	degraded  atomic.Bool
	probeMu   sync.Mutex
	lastProbe atomic.Int64 // unix nanos
}

func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{
		primary: primary,
		local:   NewLocalBackend(),
	}
}

func (f *FallbackBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	if f.degraded.Load() {
		if time.Since(time.Unix(0, f.lastProbe.Load())) > probeInterval {
			go f.probeAndRecover(context.WithoutCancel(ctx))
		}
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}

	allowed, remaining, err := f.primary.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	if err != nil {
		logging.Op().Warn("rate-limit primary backend error, degrading to local", "error", err)
		f.lastProbe.Store(time.Now().UnixNano())
		f.degraded.Store(true)
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}
	return allowed, remaining, nil
}

func (f *FallbackBackend) probeAndRecover(ctx context.Context) {
	if !f.probeMu.TryLock() {
		return
	}
	defer f.probeMu.Unlock()

	f.lastProbe.Store(time.Now().UnixNano())
	if _, _, err := f.primary.CheckRateLimit(ctx, probeKey, 1000, 1000, 0); err == nil {
		logging.Op().Info("rate-limit primary backend recovered, resuming distributed mode")
		f.degraded.Store(false)
	}
}

// Degraded reports whether the backend is currently in degraded (local) mode.
func (f *FallbackBackend) Degraded() bool {
	return f.degraded.Load()
}
