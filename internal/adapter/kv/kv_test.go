package kv

import (
	"context"
	"sort"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewRedis(rdb, "exam:"), mr
}

func exerciseStore(t *testing.T, s domain.KVStore) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "resp:a", []byte("1")))
	require.NoError(t, s.Set(ctx, "resp:b", []byte("2")))
	require.NoError(t, s.Set(ctx, "ctx:c", []byte("3")))

	v, ok, err := s.Get(ctx, "resp:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	keys, err := s.Keys(ctx, "resp:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"resp:a", "resp:b"}, keys)

	require.NoError(t, s.Delete(ctx, "resp:a"))
	_, ok, err = s.Get(ctx, "resp:a")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Delete(ctx, "resp:a"))
}

func TestMemory_Store(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_CopiesValues(t *testing.T) {
	s := NewMemory()
	buf := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", buf))
	buf[0] = 'x'
	v, _, _ := s.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(v))
}

func TestRedis_Store(t *testing.T) {
	s, mr := newRedisStore(t)
	exerciseStore(t, s)
	assert.True(t, mr.Exists("exam:resp:b"))
}

func TestRedis_NamespaceSeparator(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedis(rdb, "exam-assistant")
	require.NoError(t, s.Set(context.Background(), "cache:resp:abc", []byte("x")))
	assert.True(t, mr.Exists("exam-assistant:cache:resp:abc"))

	keys, err := s.Keys(context.Background(), "cache:")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:resp:abc"}, keys)
}

func TestRedis_KeysEscapesGlob(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "a*b:1", []byte("x")))
	require.NoError(t, s.Set(ctx, "axb:1", []byte("y")))
	keys, err := s.Keys(ctx, "a*b:")
	require.NoError(t, err)
	assert.Equal(t, []string{"a*b:1"}, keys)
}

func TestRedis_ErrorsWrapped(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=kv.Redis.Get")
}
