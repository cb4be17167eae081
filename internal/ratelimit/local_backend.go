package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// LocalBackend keeps token buckets in process memory. Limits apply per
// instance only.
type LocalBackend struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

func (l *LocalBackend) CheckRateLimit(_ context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{tokens: float64(maxTokens), lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(maxTokens), b.tokens+elapsed*refillRate)
		b.lastRefill = now
	}

	if b.tokens >= float64(requested) {
		b.tokens -= float64(requested)
		return true, int(b.tokens), nil
	}
	return false, int(b.tokens), nil
}
