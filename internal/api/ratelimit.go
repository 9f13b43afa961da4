package api

import (
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket rate-limits requests per client key using a Redis-side
// bucket, so the limit holds across walletd replicas.
type TokenBucket struct {
	Redis      *redis.Client
	Prefix     string
	Capacity   int
	RefillRate float64 // tokens per second
}

var bucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local tokens = tonumber(state[1]) or capacity
local refilled_at = tonumber(state[2]) or now

local elapsed = now - refilled_at
if elapsed < 0 then elapsed = 0 end

tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_at', now)
redis.call('EXPIRE', KEYS[1], ttl)
return allowed
`)

func (b *TokenBucket) allow(r *http.Request) (bool, error) {
	if b == nil || b.Redis == nil || b.Capacity <= 0 || b.RefillRate <= 0 {
		return true, nil
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return true, nil
	}
	key := b.Prefix + ":ip:" + host

	now := float64(time.Now().UnixNano()) / 1e9
	ttl := int64(float64(b.Capacity)/b.RefillRate) + 1

	res, err := bucketScript.Run(r.Context(), b.Redis, []string{key},
		b.Capacity, b.RefillRate, now, ttl).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func rateLimit(b *TokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := b.allow(r)
			if err != nil {
				writeError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable", "")
				return
			}
			if !allowed {
				writeError(w, r, http.StatusTooManyRequests, "rate_limited", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
