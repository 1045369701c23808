package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarangn19/exam-assistant/internal/adapter/repo/postgres"
)

func TestKVStore_Get(t *testing.T) {
	ctx := context.Background()

	s := postgres.NewKVStore(&poolStub{row: rowOf([]byte("v1"))})
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	s = postgres.NewKVStore(&poolStub{row: rowErr(pgx.ErrNoRows)})
	v, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	s = postgres.NewKVStore(&poolStub{row: rowErr(errors.New("conn reset"))})
	_, _, err = s.Get(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=kv.get")
}

func TestKVStore_SetAndDelete(t *testing.T) {
	ctx := context.Background()
	p := &poolStub{}
	s := postgres.NewKVStore(p)
	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.Len(t, p.execs, 2)
	assert.Equal(t, "k", p.execs[0].args[0])
	assert.Equal(t, []byte("v"), p.execs[0].args[1])

	s = postgres.NewKVStore(&poolStub{execErr: errors.New("boom")})
	assert.Error(t, s.Set(ctx, "k", nil))
	assert.Error(t, s.Delete(ctx, "k"))
}

func TestKVStore_KeysEscapesPrefix(t *testing.T) {
	p := &poolStub{rows: &rowsStub{data: [][]any{{"cache:a_1"}, {"cache:a_2"}}}}
	s := postgres.NewKVStore(p)
	keys, err := s.Keys(context.Background(), "cache:a_")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:a_1", "cache:a_2"}, keys)
	require.Len(t, p.queries, 1)
	assert.Equal(t, `cache:a\_%`, p.queries[0].args[0])
}

func TestKVStore_KeysErrors(t *testing.T) {
	s := postgres.NewKVStore(&poolStub{queryErr: errors.New("down")})
	_, err := s.Keys(context.Background(), "x")
	assert.Error(t, err)

	s = postgres.NewKVStore(&poolStub{rows: &rowsStub{err: errors.New("stream broke")}})
	_, err = s.Keys(context.Background(), "x")
	assert.Error(t, err)
}
