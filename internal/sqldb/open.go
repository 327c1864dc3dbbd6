// Package sqldb selects and opens the configured SQL pool.
package sqldb

import (
	"context"
	"fmt"
	"strings"

	"dataportal/internal/infra/sqldb/mssql"
	"dataportal/internal/infra/sqldb/postgres"
	"dataportal/internal/infra/sqldb/sqlite"
	"dataportal/internal/sqlexec"
)

// Supported driver names.
const (
	DriverMSSQL    = "mssql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open opens a pool for driver. An empty driver selects sqlite.
func Open(ctx context.Context, driver, dsn string) (sqlexec.Pool, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMSSQL, "sqlserver":
		return mssql.Open(ctx, dsn)
	case DriverSQLite, "":
		return sqlite.Open(ctx, dsn)
	case DriverPostgres, "postgresql", "pgx":
		return postgres.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}
