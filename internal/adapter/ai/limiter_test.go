package ai

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarangn19/exam-assistant/internal/clock"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRateLimiter_61stCallWaitsForOldestToLeaveWindow(t *testing.T) {
	fc := clock.NewFake(t0)
	l := NewRateLimiter(60, 1000, fc)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, l.CheckAndReserve(ctx))
	}
	assert.Equal(t, t0, fc.Now(), "first 60 calls must not wait")

	require.NoError(t, l.CheckAndReserve(ctx))
	assert.Equal(t, t0.Add(time.Minute), fc.Now())
	assert.Equal(t, []time.Duration{time.Minute}, fc.Sleeps())

	minute, hour := l.Usage()
	assert.Equal(t, 1, minute)
	assert.Equal(t, 61, hour)
}

func TestRateLimiter_WaitIsRelativeToOldestInWindow(t *testing.T) {
	fc := clock.NewFake(t0)
	l := NewRateLimiter(2, 1000, fc)
	ctx := context.Background()

	require.NoError(t, l.CheckAndReserve(ctx))
	fc.Advance(20 * time.Second)
	require.NoError(t, l.CheckAndReserve(ctx))
	fc.Advance(10 * time.Second)

	require.NoError(t, l.CheckAndReserve(ctx))
	// oldest is 30s old, so 30s remain
	assert.Equal(t, []time.Duration{30 * time.Second}, fc.Sleeps())
	assert.Equal(t, t0.Add(time.Minute), fc.Now())
}

func TestRateLimiter_HourCap(t *testing.T) {
	fc := clock.NewFake(t0)
	l := NewRateLimiter(100, 3, fc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckAndReserve(ctx))
		fc.Advance(2 * time.Minute)
	}
	require.NoError(t, l.CheckAndReserve(ctx))
	assert.Equal(t, t0.Add(time.Hour), fc.Now())
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	l := NewRateLimiter(1, 10, clock.System())
	require.NoError(t, l.CheckAndReserve(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.CheckAndReserve(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, hour := l.Usage()
	assert.Equal(t, 1, hour, "cancelled call must not be recorded")
}

func TestRateLimiter_ConcurrentCallersAllAdmitted(t *testing.T) {
	fc := clock.NewFake(t0)
	l := NewRateLimiter(1000, 1000, fc)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.CheckAndReserve(context.Background()))
		}()
	}
	wg.Wait()
	_, hour := l.Usage()
	assert.Equal(t, 50, hour)
}
