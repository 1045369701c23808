package postgres_test

import (
	"context"
	"errors"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// assign copies vals into the scan destinations.
func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		if vals[i] == nil {
			continue
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

func rowOf(vals ...any) rowStub {
	return rowStub{scan: func(dest ...any) error { return assign(dest, vals) }}
}

func rowErr(err error) rowStub {
	return rowStub{scan: func(_ ...any) error { return err }}
}

// rowsStub implements the parts of pgx.Rows the repos use.
type rowsStub struct {
	pgx.Rows
	data [][]any
	i    int
	err  error
}

func (r *rowsStub) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}
func (r *rowsStub) Scan(dest ...any) error { return assign(dest, r.data[r.i-1]) }
func (r *rowsStub) Err() error             { return r.err }
func (r *rowsStub) Close()                 {}

type execCall struct {
	sql  string
	args []any
}

// txStub implements the parts of pgx.Tx the repos use.
type txStub struct {
	pgx.Tx
	execTags   []string
	execErr    error
	calls      []execCall
	committed  bool
	rolledBack bool
}

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.calls = append(t.calls, execCall{sql: sql, args: args})
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	tag := "INSERT 0 1"
	if n := len(t.calls) - 1; n < len(t.execTags) {
		tag = t.execTags[n]
	}
	return pgconn.NewCommandTag(tag), nil
}
func (t *txStub) Commit(context.Context) error   { t.committed = true; return nil }
func (t *txStub) Rollback(context.Context) error { t.rolledBack = true; return nil }

// poolStub implements postgres.PgxPool for tests
type poolStub struct {
	execErr  error
	execs    []execCall
	row      rowStub
	rows     *rowsStub
	queryErr error
	tx       *txStub
	queries  []execCall
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowErr(errors.New("no row configured"))
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, execCall{sql: sql, args: args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.tx == nil {
		return nil, errors.New("no tx configured")
	}
	return p.tx, nil
}
