package kv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// Redis stores values under an optional namespace prefix.
type Redis struct {
	rdb       *redis.Client
	namespace string
	scanCount int64
}

// NewRedis wraps a client. namespace is prepended to every key and is
// terminated with ':' when it does not already end in one.
func NewRedis(rdb *redis.Client, namespace string) *Redis {
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &Redis{rdb: rdb, namespace: namespace, scanCount: 200}
}

func (s *Redis) Get(ctx domain.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=kv.Redis.Get: %w", err)
	}
	return b, true, nil
}

func (s *Redis) Set(ctx domain.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.namespace+key, value, 0).Err(); err != nil {
		return fmt.Errorf("op=kv.Redis.Set: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx domain.Context, key string) error {
	if err := s.rdb.Del(ctx, s.namespace+key).Err(); err != nil {
		return fmt.Errorf("op=kv.Redis.Delete: %w", err)
	}
	return nil
}

// Keys enumerates keys by prefix with SCAN so large keyspaces do not block Redis.
func (s *Redis) Keys(ctx domain.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.namespace+prefix) + "*"
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("op=kv.Redis.Keys: %w", err)
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, s.namespace))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
