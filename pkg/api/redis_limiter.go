package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token-bucket check and refill atomically
// in Redis, so a burst split across two replicas behind the same load
// balancer still sees one shared bucket instead of two independent ones.
//
// KEYS[1] = bucket key ("ratelimit:<ip>")
// ARGV[1] = refill rate (tokens/second)
// ARGV[2] = capacity (burst)
// ARGV[3] = current unix time in microseconds
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = (now - last_refill) / 1000000.0
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisRateLimiter is the distributed counterpart to RateLimiter: same
// per-IP token-bucket semantics, state held in Redis instead of an
// in-process map, for deployments running more than one replica of this
// server behind a shared address.
type RedisRateLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
}

// NewRedisRateLimiter dials addr and returns a RedisRateLimiter allowing
// rps requests/second per IP with the given burst capacity.
func NewRedisRateLimiter(addr, password string, db int, rps, burst int) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRateLimiter{client: client, rps: float64(rps), burst: burst}
}

// Allow reports whether ip has a token available, consuming one if so.
func (rl *RedisRateLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", ip)
	now := time.Now().UnixMicro()
	res, err := redisTokenBucketScript.Run(ctx, rl.client, []string{key}, rl.rps, rl.burst, now).Int()
	if err != nil {
		return false, fmt.Errorf("api: redis rate limiter: %w", err)
	}
	return res == 1, nil
}

// Middleware wraps next with this limiter's per-IP throttling. Unlike
// RateLimiter.Middleware, a Redis error fails open (allows the request)
// rather than blocking the API on Redis availability — losing the limiter
// is preferable to losing the server.
func (rl *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		allowed, err := rl.Allow(r.Context(), ip)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeTooManyRequests(w, r, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
