// Package postgres runs portal queries on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dataportal/internal/infra/sqldb/schema"
	"dataportal/internal/sqlexec"
)

const defaultDSN = "postgres://localhost/dataportal?sslmode=disable"

// Pool adapts *pgxpool.Pool. Parameters travel as pgx.NamedArgs, which
// rewrites "@name" placeholders into positional ones.
type Pool struct {
	pool *pgxpool.Pool
}

var _ sqlexec.Pool = (*Pool)(nil)

// Open connects, pings and applies the development schema.
func Open(ctx context.Context, dsn string) (*Pool, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := schema.Apply(ctx, schema.ExecFunc(func(ctx context.Context, q string) error {
		_, err := pool.Exec(ctx, q)
		return err
	}), schema.Postgres()); err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{pool: pool}, nil
}

// Dialect implements sqlexec.Pool.
func (p *Pool) Dialect() sqlexec.Dialect { return sqlexec.DialectPostgres }

// Close implements sqlexec.Pool.
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// Query implements sqlexec.Querier.
func (p *Pool) Query(ctx context.Context, text string, params []sqlexec.Param) (sqlexec.ResultSet, error) {
	return query(ctx, p.pool, text, params)
}

// Exec implements sqlexec.Querier.
func (p *Pool) Exec(ctx context.Context, text string, params []sqlexec.Param) (int64, error) {
	return exec(ctx, p.pool, text, params)
}

// Begin implements sqlexec.Pool.
func (p *Pool) Begin(ctx context.Context) (sqlexec.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps pgx.Tx.
type Tx struct {
	tx pgx.Tx
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
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback implements sqlexec.Tx. Rolling back a finished transaction is a
// no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func namedArgs(params []sqlexec.Param) pgx.NamedArgs {
	args := make(pgx.NamedArgs, len(params))
	for _, p := range params {
		args[p.Name] = p.Value
	}
	return args
}

func query(ctx context.Context, q queryer, text string, params []sqlexec.Param) (sqlexec.ResultSet, error) {
	rows, err := q.Query(ctx, text, namedArgs(params))
	if err != nil {
		return sqlexec.ResultSet{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	out := sqlexec.ResultSet{Columns: columns, Rows: []sqlexec.Row{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return sqlexec.ResultSet{}, fmt.Errorf("scan: %w", err)
		}
		row := make(sqlexec.Row, len(columns))
		for i, col := range columns {
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
	tag, err := q.Exec(ctx, text, namedArgs(params))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
