package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketNotConfigured = errors.New("token_bucket_not_configured")
	ErrInvalidBucket       = errors.New("invalid_token_bucket")
)

// takeScript refills the bucket from the redis clock and takes one token.
// It replies {1, 0} on success and {0, wait_ms} when the caller must back off.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or burst
local at = tonumber(state[2]) or now
if now > at then
  tokens = math.min(burst, tokens + (now - at) * rate / 1000)
end

local granted = 0
local wait_ms = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
else
  wait_ms = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ttl_ms)
return {granted, wait_ms}
`

// TokenBucket is a token bucket kept in redis so that every replica draws
// from the same budget.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	return &TokenBucket{client: client, script: redis.NewScript(takeScript)}
}

// Take removes one token from the bucket at key. A zero duration means the
// token was granted; otherwise it is the time until one becomes available.
func (t *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (time.Duration, error) {
	if t == nil || t.client == nil {
		return 0, ErrBucketNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return 0, ErrInvalidBucket
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rate, burst, bucketTTL(rate, burst).Milliseconds()).Int64Slice()
	if err != nil {
		return 0, err
	}
	if len(reply) != 2 {
		return 0, errors.New("token bucket: unexpected reply of length " + strconv.Itoa(len(reply)))
	}
	if reply[0] == 1 {
		return 0, nil
	}
	return time.Duration(reply[1]) * time.Millisecond, nil
}

// bucketTTL keeps idle buckets around for twice the time a full refill takes.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
