// Package stdsql adapts a database/sql handle to the sqlexec pool contract.
package stdsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"dataportal/internal/sqlexec"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Pool wraps *sql.DB. Parameters are passed as sql.Named values, so the
// underlying driver must understand "@name" placeholders.
type Pool struct {
	db      *sql.DB
	dialect sqlexec.Dialect
}

var _ sqlexec.Pool = (*Pool)(nil)

// Open opens driverName with dsn and verifies connectivity.
func Open(ctx context.Context, driverName, dsn string, dialect sqlexec.Dialect) (*Pool, error) {
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	return New(db, dialect), nil
}

// New wraps an already opened handle.
func New(db *sql.DB, dialect sqlexec.Dialect) *Pool {
	return &Pool{db: db, dialect: dialect}
}

// DB exposes the underlying handle for bootstrap and test hooks.
func (p *Pool) DB() *sql.DB { return p.db }

// Dialect implements sqlexec.Pool.
func (p *Pool) Dialect() sqlexec.Dialect { return p.dialect }

// Close implements sqlexec.Pool.
func (p *Pool) Close() error { return p.db.Close() }

// Query implements sqlexec.Querier.
func (p *Pool) Query(ctx context.Context, text string, params []sqlexec.Param) (sqlexec.ResultSet, error) {
	return query(ctx, p.db, text, params)
}

// Exec implements sqlexec.Querier.
func (p *Pool) Exec(ctx context.Context, text string, params []sqlexec.Param) (int64, error) {
	return exec(ctx, p.db, text, params)
}

// Begin implements sqlexec.Pool.
func (p *Pool) Begin(ctx context.Context) (sqlexec.Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps *sql.Tx.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// Query implements sqlexec.Querier.
func (t *Tx) Query(ctx context.Context, text string, params []sqlexec.Param) (sqlexec.ResultSet, error) {
	return query(ctx, t.tx, text, params)
}

// Exec implements sqlexec.Querier.
func (t *Tx) Exec(ctx context.Context, text string, params []sqlexec.Param) (int64, error) {
	return exec(ctx, t.tx, text, params)
}

// Commit implements sqlexec.Tx.
func (t *Tx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.done = true
	return nil
}

// Rollback implements sqlexec.Tx.
func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func namedArgs(params []sqlexec.Param) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = sql.Named(p.Name, p.Value)
	}
	return args
}

func query(ctx context.Context, q queryer, text string, params []sqlexec.Param) (sqlexec.ResultSet, error) {
	rows, err := q.QueryContext(ctx, text, namedArgs(params)...)
	if err != nil {
		return sqlexec.ResultSet{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return sqlexec.ResultSet{}, fmt.Errorf("columns: %w", err)
	}
	out := sqlexec.ResultSet{Columns: columns, Rows: []sqlexec.Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return sqlexec.ResultSet{}, fmt.Errorf("scan: %w", err)
		}
		row := make(sqlexec.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return sqlexec.ResultSet{}, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

func exec(ctx context.Context, q queryer, text string, params []sqlexec.Param) (int64, error) {
	res, err := q.ExecContext(ctx, text, namedArgs(params)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// OverrideSQLOpen swaps the sql.Open hook for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
