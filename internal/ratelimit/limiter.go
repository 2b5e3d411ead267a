// Package ratelimit bounds how often a user can toggle votes, with a token
// bucket per user kept in redis.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] bucket key
// ARGV[1] now in ms, ARGV[2] capacity, ARGV[3] tokens per minute
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])
if tokens == nil then
	tokens = capacity
	ts = now
end

if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * rate / 60000)
	ts = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', ts)
redis.call('PEXPIRE', key, math.ceil(capacity * 60000 / rate) + 1000)
return allowed
`)

type Limiter struct {
	rdb      redis.Scripter
	clock    clockwork.Clock
	capacity int
	rate     int
}

// NewLimiter allows bursts of capacity toggles and rate toggles per minute
// sustained.
func NewLimiter(rdb redis.Scripter, clock clockwork.Clock, capacity, rate int) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		rdb:      rdb,
		clock:    clock,
		capacity: capacity,
		rate:     rate,
	}
}

// Allow consumes a token of userID and reports whether one was available.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf("rate_limit:toggles:%s", userID)
	allowed, err := tokenBucket.Run(ctx, l.rdb, []string{key},
		l.clock.Now().UnixMilli(),
		l.capacity,
		l.rate,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return allowed == 1, nil
}

// Unlimited allows everything. Used when redis is not configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
