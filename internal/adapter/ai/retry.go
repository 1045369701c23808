package ai

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/clock"
	"github.com/sarangn19/exam-assistant/internal/config"
	"github.com/sarangn19/exam-assistant/internal/domain"
)

// AttemptFunc performs one provider attempt. attempt starts at 1. ctx carries
// the per-attempt deadline.
type AttemptFunc func(ctx context.Context, attempt int) error

// RetryExecutor runs an attempt with bounded retries, exponential backoff with
// jitter and a hard per-attempt timeout. Only Server, RateLimit, Timeout and
// Network errors are retried.
type RetryExecutor struct {
	cfg     config.RetryConfig
	clk     clock.Clock
	limiter Limiter
	jitter  func() float64
}

// NewRetryExecutor builds an executor. limiter may be nil; when set it is
// awaited before each attempt's timeout starts.
func NewRetryExecutor(cfg config.RetryConfig, clk clock.Clock, limiter Limiter) *RetryExecutor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxJitter < 0 {
		cfg.MaxJitter = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.System()
	}
	return &RetryExecutor{cfg: cfg, clk: clk, limiter: limiter, jitter: rand.Float64}
}

// WithJitterSource replaces the [0,1) random source used for jitter.
func (r *RetryExecutor) WithJitterSource(fn func() float64) *RetryExecutor {
	if fn != nil {
		r.jitter = fn
	}
	return r
}

// Execute runs fn until it succeeds, fails terminally, retries are exhausted
// or ctx is done. It reports how many attempts were started.
func (r *RetryExecutor) Execute(ctx context.Context, fn AttemptFunc) (int, error) {
	attempts := 0
	op := func() error {
		if r.limiter != nil {
			if err := r.limiter.CheckAndReserve(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempts++
		actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		err := fn(actx, attempts)
		deadlineHit := errors.Is(actx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if deadlineHit && domain.KindOf(err) != domain.KindTimeout {
			err = domain.NewError(domain.KindTimeout, "ai.RetryExecutor.Execute", err)
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := &jitteredBackOff{
		base:      r.cfg.BaseDelay,
		maxDelay:  r.cfg.MaxDelay,
		maxJitter: r.cfg.MaxJitter,
		rand:      r.jitter,
	}
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		kind := string(domain.KindOf(err))
		observability.RecordRetry(kind)
		observability.LoggerFromContext(ctx).Warn("ai attempt failed, retrying",
			slog.Int("attempt", attempts),
			slog.String("kind", kind),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}
	err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clk: r.clk})
	return attempts, err
}

// jitteredBackOff yields min(base*2^n + jitter, maxDelay) for the n-th retry.
type jitteredBackOff struct {
	base      time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration
	rand      func() float64
	n         int
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	d := b.maxDelay
	if b.n < 63 && b.base <= b.maxDelay>>uint(b.n) {
		d = b.base << uint(b.n)
	}
	b.n++
	if b.maxJitter > 0 && b.rand != nil {
		d += time.Duration(b.rand() * float64(b.maxJitter))
	}
	if d > b.maxDelay {
		d = b.maxDelay
	}
	return d
}

func (b *jitteredBackOff) Reset() { b.n = 0 }

// clockTimer adapts clock.Timer to backoff.Timer.
type clockTimer struct {
	clk clock.Clock
	t   clock.Timer
}

func (c *clockTimer) Start(d time.Duration) {
	c.t = c.clk.NewTimer(d)
}

func (c *clockTimer) Stop() {
	if c.t != nil {
		c.t.Stop()
	}
}

func (c *clockTimer) C() <-chan time.Time {
	return c.t.C()
}
