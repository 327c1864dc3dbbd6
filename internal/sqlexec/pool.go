// Package sqlexec binds resolved query definitions into parameterized
// requests and runs them against a connection pool.
package sqlexec

import (
	"context"
	"strconv"
	"strings"

	"dataportal/pkg/queryapi"
)

// Dialect identifies the SQL flavour spoken by a pool. All dialects share
// "@name" placeholders for named parameters.
type Dialect string

const (
	DialectSQLServer Dialect = "sqlserver"
	DialectSQLite    Dialect = "sqlite"
	DialectPostgres  Dialect = "postgres"
)

// Param is one named, typed SQL parameter.
type Param struct {
	Name  string
	Type  queryapi.StorageType
	Value any
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Get returns the value of column, matching case-insensitively when the
// exact key is absent. Postgres folds unquoted identifiers to lower case.
func (r Row) Get(column string) any {
	if v, ok := r[column]; ok {
		return v
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v
		}
	}
	return nil
}

// ResultSet is a fully materialized tabular result.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Querier runs SQL text with named parameters.
type Querier interface {
	Query(ctx context.Context, text string, params []Param) (ResultSet, error)
	Exec(ctx context.Context, text string, params []Param) (int64, error)
}

// Tx is an explicit transaction. Rollback after Commit is a no-op.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool is a process-wide connection pool. Implementations are safe for
// concurrent use and are closed once at shutdown.
type Pool interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Dialect() Dialect
	Close() error
}

// Now returns the dialect's current-UTC-timestamp expression.
func (d Dialect) Now() string {
	switch d {
	case DialectSQLServer:
		return "SYSUTCDATETIME()"
	default:
		return "CURRENT_TIMESTAMP"
	}
}

// InsertReturning renders an INSERT that yields the generated key column.
// Column names are trusted constants supplied by the caller; values are
// always placeholders named after their column.
func (d Dialect) InsertReturning(table, key string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		placeholders[i] = "@" + c
	}
	cols := strings.Join(columns, ", ")
	vals := strings.Join(placeholders, ", ")
	if d == DialectSQLServer {
		return "INSERT INTO " + table + " (" + cols + ") OUTPUT INSERTED." + key + " VALUES (" + vals + ")"
	}
	return "INSERT INTO " + table + " (" + cols + ") VALUES (" + vals + ") RETURNING " + key
}

// Limit renders a row cap. SQL Server callers place the result after
// SELECT; the others append it to the statement.
func (d Dialect) Limit(n int) (prefix, suffix string) {
	if d == DialectSQLServer {
		return "TOP (" + strconv.Itoa(n) + ") ", ""
	}
	return "", " LIMIT " + strconv.Itoa(n)
}
