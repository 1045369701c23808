package app

import (
	"context"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/sarangn19/exam-assistant/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisClient is the part of a go-redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// BuildReadinessChecks returns one check per configured backend. Backends
// that are not configured are not probed; the service runs without them.
func BuildReadinessChecks(pool Pinger, rdb RedisClient) []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if pool != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "db", Check: pool.Ping})
	}
	if rdb != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return checks
}
