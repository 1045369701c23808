package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/cache"
)

// Sweeper purges expired cache entries.
type Sweeper interface {
	Sweep(ctx context.Context) cache.SweepResult
}

// CacheSweeper runs Sweep on a fixed interval until its context ends.
type CacheSweeper struct {
	cache    Sweeper
	interval time.Duration
}

// NewCacheSweeper returns nil when c is nil.
func NewCacheSweeper(c Sweeper, interval time.Duration) *CacheSweeper {
	if c == nil {
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CacheSweeper{cache: c, interval: interval}
}

// Run sweeps immediately and then on every tick. It blocks until ctx is done.
func (s *CacheSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("cache sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *CacheSweeper) sweepOnce(ctx context.Context) {
	ctx, span := observability.Tracer("cache.sweeper").Start(ctx, "CacheSweeper.sweepOnce")
	defer span.End()

	res := s.cache.Sweep(ctx)
	span.SetAttributes(
		attribute.Int("cache.expired_responses", res.Responses),
		attribute.Int("cache.expired_contexts", res.Contexts),
	)
	if res.Responses > 0 || res.Contexts > 0 {
		slog.Info("cache sweep removed expired entries",
			slog.Int("responses", res.Responses),
			slog.Int("contexts", res.Contexts))
	}
}
