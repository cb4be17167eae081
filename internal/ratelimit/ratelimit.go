// Package ratelimit throttles seckill claims per user with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Rainbow-0328/dianping/internal/metrics"
)

// Backend performs one atomic token bucket check.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (allowed bool, remaining int, err error)
}

// Config sizes each caller's bucket.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Limiter applies one bucket configuration to many keys.
type Limiter struct {
	backend Backend
	cfg     Config
}

// New creates a Limiter.
func New(backend Backend, cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}
	return &Limiter{backend: backend, cfg: cfg}
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key, l.cfg.BurstSize, l.cfg.RequestsPerSecond, 1)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}
	metrics.RecordRateLimit(allowed)

	// time until the bucket is full again
	missing := float64(l.cfg.BurstSize - remaining)
	resetAt := time.Now().Add(time.Duration(missing / l.cfg.RequestsPerSecond * float64(time.Second)))

	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

// KeyForUser returns the bucket key for an identified caller.
func KeyForUser(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// KeyForIP returns the bucket key for an anonymous caller.
func KeyForIP(ip string) string {
	return "ip:" + ip
}
