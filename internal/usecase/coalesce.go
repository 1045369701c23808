package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// coalescer shares one provider call between concurrent identical requests.
// The shared call is detached from every individual caller and is canceled
// only when the last waiter leaves or the timeout elapses.
type coalescer struct {
	group   singleflight.Group
	timeout time.Duration

	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *coalescer) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights == nil {
		c.flights = make(map[string]*flight)
	}
	f, ok := c.flights[key]
	if !ok {
		base := context.WithoutCancel(ctx)
		f = &flight{}
		if c.timeout > 0 {
			f.ctx, f.cancel = context.WithTimeout(base, c.timeout)
		} else {
			f.ctx, f.cancel = context.WithCancel(base)
		}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

func (c *coalescer) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// do runs fn once per key among concurrent callers. A caller whose ctx ends
// stops waiting without affecting the others.
func (c *coalescer) do(ctx context.Context, key string, fn func(context.Context) (domain.Envelope, error)) (domain.Envelope, bool, error) {
	for rejoined := false; ; rejoined = true {
		f := c.join(ctx, key)
		ch := c.group.DoChan(key, func() (any, error) {
			return fn(f.ctx)
		})
		select {
		case <-ctx.Done():
			c.leave(key, f)
			return domain.Envelope{}, false, ctx.Err()
		case res := <-ch:
			c.leave(key, f)
			if res.Err != nil {
				// Joined a call abandoned by all of its earlier waiters.
				if !rejoined && ctx.Err() == nil && errors.Is(res.Err, context.Canceled) {
					continue
				}
				return domain.Envelope{}, res.Shared, res.Err
			}
			return res.Val.(domain.Envelope), res.Shared, nil
		}
	}
}
