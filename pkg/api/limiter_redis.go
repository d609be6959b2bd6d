package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key (e.g. "botnode:rate:10.0.0.1")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tostring(tokens)}
`)

// RedisLimiter shares token buckets between gateway replicas.
type RedisLimiter struct {
	client redis.Scripter
	rps    float64
	burst  int
	prefix string
}

// NewRedisLimiter creates a limiter backed by the Redis server at addr.
func NewRedisLimiter(addr, password string, db int, rps, burst int) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLimiterWithClient(rdb, rps, burst)
}

// NewRedisLimiterWithClient wraps an existing client.
func NewRedisLimiterWithClient(client redis.Scripter, rps, burst int) *RedisLimiter {
	r := float64(rps)
	if r <= 0 {
		r = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RedisLimiter{client: client, rps: r, burst: burst, prefix: "botnode:rate:"}
}

// Allow executes the Lua script to check and update the token bucket.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{l.prefix + key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}

	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
