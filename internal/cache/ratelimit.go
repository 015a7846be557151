package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix = "ratelimit:"
	// rateLimitTTLMargin is added to the full-refill time of a bucket.
	rateLimitTTLMargin = time.Second
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and spends one token atomically. Time comes
// from the Redis server so every API replica shares one clock.
// ARGV: rate (tokens/s), burst, idle ttl (ms).
// Returns {allowed, retry_after_ms, remaining}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local t = redis.call('TIME')
local now_ms = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = burst
	ts = now_ms
end

tokens = math.min(burst, tokens + (math.max(0, now_ms - ts) / 1000) * rate)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now_ms)
redis.call('PEXPIRE', KEYS[1], ttl_ms)

return {allowed, wait_ms, math.floor(tokens)}
`)

// CheckIPRateLimit spends a token from the bucket of ip within the named
// bucket group. The address is hashed before it becomes part of a key.
// Redis failures are reported as allowed.
func (c *Cache) CheckIPRateLimit(ctx context.Context, bucket, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	key := rateLimitPrefix + bucket + ":" + hashIP(ip)
	now := time.Now()

	res, err := tokenBucketScript.Run(ctx, c.client, []string{key},
		ratePerSecond, burst, bucketTTL(ratePerSecond, burst).Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: now}, nil
	}

	wait := time.Duration(res[1]) * time.Millisecond
	out := &RateLimitResult{
		Allowed:    res[0] == 1,
		Remaining:  res[2],
		RetryAfter: wait,
		ResetAt:    now.Add(wait),
	}
	if out.Allowed {
		out.ResetAt = now.Add(time.Second / time.Duration(max(ratePerSecond, 1)))
	}
	return out, nil
}

// bucketTTL is how long an idle bucket is kept: a full refill plus a margin.
func bucketTTL(ratePerSecond, burst int) time.Duration {
	rate := max(ratePerSecond, 1)
	refill := time.Duration((max(burst, 1)*int(time.Second) + rate - 1) / rate)
	return refill + rateLimitTTLMargin
}

// hashIP returns the first 8 bytes of the SHA-256 of ip, hex encoded.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
