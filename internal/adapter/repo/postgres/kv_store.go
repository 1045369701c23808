package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarangn19/exam-assistant/internal/domain"
)

// KVStore implements domain.KVStore on the kv_store table.
type KVStore struct{ Pool PgxPool }

// NewKVStore constructs a KVStore with the given pool.
func NewKVStore(p PgxPool) *KVStore { return &KVStore{Pool: p} }

func kvSpan(ctx domain.Context, name, op string) (domain.Context, trace.Span) {
	ctx, span := otel.Tracer("repo.kv").Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", "kv_store"),
	)
	return ctx, span
}

func (s *KVStore) Get(ctx domain.Context, key string) ([]byte, bool, error) {
	ctx, span := kvSpan(ctx, "kv.Get", "SELECT")
	defer span.End()
	var v []byte
	err := s.Pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=kv.get: %w", err)
	}
	return v, true, nil
}

func (s *KVStore) Set(ctx domain.Context, key string, value []byte) error {
	ctx, span := kvSpan(ctx, "kv.Set", "UPSERT")
	defer span.End()
	q := `INSERT INTO kv_store (key, value, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := s.Pool.Exec(ctx, q, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=kv.set: %w", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx domain.Context, key string) error {
	ctx, span := kvSpan(ctx, "kv.Delete", "DELETE")
	defer span.End()
	if _, err := s.Pool.Exec(ctx, `DELETE FROM kv_store WHERE key=$1`, key); err != nil {
		return fmt.Errorf("op=kv.delete: %w", err)
	}
	return nil
}

// Keys enumerates keys starting with prefix.
func (s *KVStore) Keys(ctx domain.Context, prefix string) ([]string, error) {
	ctx, span := kvSpan(ctx, "kv.Keys", "SELECT")
	defer span.End()
	rows, err := s.Pool.Query(ctx, `SELECT key FROM kv_store WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("op=kv.keys: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("op=kv.keys: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=kv.keys: %w", err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(p string) string { return likeEscaper.Replace(p) + "%" }
