package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketScript refills a bucket of capacity ARGV[1] at ARGV[2]
// tokens per second and takes one token if available.
// KEYS[1]: bucket key
// ARGV[1]: capacity
// ARGV[2]: refill rate per second
// ARGV[3]: now in milliseconds
// ARGV[4]: key TTL in seconds
// Returns {allowed(0/1), remaining}.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(bucket[1])
local last_update = tonumber(bucket[2])

if tokens == nil then
    tokens = capacity
    last_update = now
end

local elapsed = math.max(0, now - last_update) / 1000.0
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens)}
`

// RedisLimiter is a token bucket shared by every instance that talks to the
// same Redis. A full bucket holds limit tokens and refills over duration.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	limit    int
	duration time.Duration
	now      func() time.Time
}

// NewRedisLimiter returns a limiter storing buckets under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, duration time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		limit:    limit,
		duration: duration,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rate := float64(r.limit) / r.duration.Seconds()
	ttl := int64((2 * r.duration).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	res, err := r.client.Eval(ctx, tokenBucketScript, []string{r.prefix + key},
		r.limit, rate, r.now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, fmt.Errorf("rate limit script: unexpected result %v", res)
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, fmt.Errorf("rate limit script: unexpected allowed value %v", values[0])
	}
	return allowed == 1, nil
}

// Reset deletes key's bucket.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

// NewRedisLoginLimiter is NewLoginLimiterWithConfig over Redis buckets.
func NewRedisLoginLimiter(client redis.UniversalClient, logger *zap.Logger, ipLimit int, ipDuration time.Duration, accountLimit int, accountDuration time.Duration) *LoginLimiter {
	return NewLoginLimiterWithBackends(logger,
		NewRedisLimiter(client, "ratelimit:login:", ipLimit, ipDuration),
		NewRedisLimiter(client, "ratelimit:login:", accountLimit, accountDuration),
	)
}
