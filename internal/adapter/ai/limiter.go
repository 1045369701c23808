// Package ai contains the resilience primitives shared by provider clients:
// outbound rate limiting, retry with backoff and the degraded fallback reply.
package ai

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/clock"
)

// Limiter gates outbound provider calls. CheckAndReserve blocks until the
// call may proceed and records it; the only error is ctx cancellation.
type Limiter interface {
	CheckAndReserve(ctx context.Context) error
}

// RateLimiter is a process-wide sliding-window limiter with a per-minute and a
// per-hour cap sharing one ordered timestamp log.
type RateLimiter struct {
	mu        sync.Mutex
	clk       clock.Clock
	perMinute int
	perHour   int
	log       []time.Time
}

// NewRateLimiter builds a limiter. Non-positive caps fall back to 60/min and 1000/hr.
func NewRateLimiter(perMinute, perHour int, clk clock.Clock) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if perHour <= 0 {
		perHour = 1000
	}
	if clk == nil {
		clk = clock.System()
	}
	return &RateLimiter{clk: clk, perMinute: perMinute, perHour: perHour}
}

// CheckAndReserve waits (possibly zero) until both windows have room, then
// records now. The mutex is never held while waiting.
func (l *RateLimiter) CheckAndReserve(ctx context.Context) error {
	start := l.clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, admitted := l.tryReserve()
		if admitted {
			waited := l.clk.Now().Sub(start)
			observability.ObserveLimiterWait("memory", waited)
			if waited > 0 {
				slog.Debug("rate limiter admitted after wait", slog.Duration("waited", waited))
			}
			return nil
		}
		t := l.clk.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		}
	}
}

// tryReserve prunes the log and either appends now or reports how long the
// caller must wait for the oldest blocking timestamp to leave its window.
func (l *RateLimiter) tryReserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	l.prune(now)

	var wait time.Duration
	// entries inside the last minute form a suffix of the log
	inMinute := 0
	for i := len(l.log) - 1; i >= 0 && now.Sub(l.log[i]) < time.Minute; i-- {
		inMinute++
	}
	if inMinute >= l.perMinute {
		oldest := l.log[len(l.log)-inMinute]
		wait = time.Minute - now.Sub(oldest)
	}
	if len(l.log) >= l.perHour {
		if w := time.Hour - now.Sub(l.log[0]); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		return wait, false
	}
	l.log = append(l.log, now)
	return 0, true
}

func (l *RateLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.log) && now.Sub(l.log[i]) >= time.Hour {
		i++
	}
	if i > 0 {
		l.log = append(l.log[:0], l.log[i:]...)
	}
}

// Usage reports the calls recorded in the current minute and hour windows.
func (l *RateLimiter) Usage() (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	l.prune(now)
	for _, ts := range l.log {
		if now.Sub(ts) < time.Minute {
			minute++
		}
	}
	return minute, len(l.log)
}
