package app

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func TestBuildReadinessChecks_OnlyConfiguredBackends(t *testing.T) {
	assert.Empty(t, BuildReadinessChecks(nil, nil))

	checks := BuildReadinessChecks(pingStub{}, nil)
	require.Len(t, checks, 1)
	assert.Equal(t, "db", checks[0].Name)
	assert.NoError(t, checks[0].Check(context.Background()))

	down := errors.New("pool closed")
	checks = BuildReadinessChecks(pingStub{err: down}, nil)
	assert.ErrorIs(t, checks[0].Check(context.Background()), down)
}

func TestBuildReadinessChecks_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	checks := BuildReadinessChecks(nil, rdb)
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name)
	require.NoError(t, checks[0].Check(context.Background()))

	mr.Close()
	assert.Error(t, checks[0].Check(context.Background()))
}
