// Package sqlite opens an embedded SQLite pool for development and tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dataportal/internal/infra/sqldb/schema"
	"dataportal/internal/infra/sqldb/stdsql"
	"dataportal/internal/sqlexec"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const driverName = "sqlite"

// Open opens (or creates) the database at path and applies the development
// schema. ":memory:" yields a private in-memory database pinned to a single
// connection so every statement sees the same data.
func Open(ctx context.Context, path string) (*stdsql.Pool, error) {
	if path == "" {
		path = "dataportal.db"
	}
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	pool, err := stdsql.Open(ctx, driverName, path, sqlexec.DialectSQLite)
	if err != nil {
		return nil, err
	}
	if memory {
		pool.DB().SetMaxOpenConns(1)
	}
	db := pool.DB()
	if err := schema.Apply(ctx, schema.ExecFunc(func(ctx context.Context, q string) error {
		_, err := db.ExecContext(ctx, q)
		return err
	}), schema.SQLite()); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}
