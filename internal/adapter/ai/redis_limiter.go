package ai

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/clock"
)

// RedisWindowLimiter enforces the same minute/hour caps as RateLimiter across
// processes by keeping the timestamp log in a Redis sorted set.
type RedisWindowLimiter struct {
	redis     *redis.Client
	key       string
	perMinute int
	perHour   int
	clk       clock.Clock
	script    *redis.Script
}

// NewRedisWindowLimiter returns nil when rdb is nil.
func NewRedisWindowLimiter(rdb *redis.Client, key string, perMinute, perHour int, clk clock.Clock) *RedisWindowLimiter {
	if rdb == nil {
		return nil
	}
	if key == "" {
		key = "ai:limiter"
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	if perHour <= 0 {
		perHour = 1000
	}
	if clk == nil {
		clk = clock.System()
	}
	return &RedisWindowLimiter{
		redis:     rdb,
		key:       key,
		perMinute: perMinute,
		perHour:   perHour,
		clk:       clk,
		script:    redis.NewScript(luaSlidingWindowScript),
	}
}

// Timestamps are integer milliseconds. Returns 0 when the call was recorded,
// otherwise the milliseconds to wait before trying again.
const luaSlidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local per_minute = tonumber(ARGV[2])
local per_hour = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - 3600000)

local wait = 0
local in_minute = redis.call("ZCOUNT", key, "(" .. (now - 60000), "+inf")
if in_minute >= per_minute then
  local oldest = redis.call("ZRANGEBYSCORE", key, "(" .. (now - 60000), "+inf", "WITHSCORES", "LIMIT", 0, 1)
  if oldest[2] ~= nil then
    wait = 60000 - (now - tonumber(oldest[2]))
  end
end

local in_hour = redis.call("ZCARD", key)
if in_hour >= per_hour then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  if oldest[2] ~= nil then
    local w = 3600000 - (now - tonumber(oldest[2]))
    if w > wait then
      wait = w
    end
  end
end

if wait > 0 then
  return wait
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, 3600000)
return 0
`

// CheckAndReserve blocks until a slot is recorded in Redis. Redis failures
// fail open so provider-side 429 handling still applies.
func (l *RedisWindowLimiter) CheckAndReserve(ctx context.Context) error {
	if l == nil || l.redis == nil {
		return nil
	}
	start := l.clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := l.clk.Now()
		member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + ulid.Make().String()
		waitMs, err := l.script.Run(ctx, l.redis, []string{l.key}, now.UnixMilli(), l.perMinute, l.perHour, member).Int64()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("redis window limiter script error", slog.String("key", l.key), slog.Any("error", err))
			return nil
		}
		if waitMs <= 0 {
			observability.ObserveLimiterWait("redis", l.clk.Now().Sub(start))
			return nil
		}
		t := l.clk.NewTimer(time.Duration(waitMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		}
	}
}
