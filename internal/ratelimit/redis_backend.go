package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills the bucket for the elapsed time, takes the
// requested tokens if available and returns {allowed, remaining}.
//
// KEYS[1] = bucket key
// ARGV[1] = max_tokens, ARGV[2] = refill_rate, ARGV[3] = requested, ARGV[4] = now (unix microseconds)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

if tokens == nil then
    tokens = max_tokens
    last_refill = now
end

local elapsed = (now - last_refill) / 1000000.0
if elapsed > 0 then
    tokens = math.min(max_tokens, tokens + elapsed * refill_rate)
end

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
-- idle buckets expire after twice the full refill time
local ttl = math.ceil(max_tokens / refill_rate * 2)
if ttl < 60 then ttl = 60 end
redis.call("EXPIRE", key, ttl)

return {allowed, math.floor(tokens)}
`)

// RedisBackend shares buckets across all instances through Redis. The script
// reads the clock from its caller, so instances should run with synced clocks.
type RedisBackend struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisBackend creates a Redis-backed rate limiting backend. Bucket keys
// are namespaced under prefix.
func NewRedisBackend(client redis.Scripter, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "dianping:rl:"
	}
	return &RedisBackend{client: client, prefix: prefix, now: time.Now}
}

func (b *RedisBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	result, err := tokenBucketScript.Run(ctx, b.client, []string{b.prefix + key},
		maxTokens, refillRate, requested, b.now().UnixMicro(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return result[0] == 1, int(result[1]), nil
}
