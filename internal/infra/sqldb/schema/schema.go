// Package schema exposes the development DDL bundles applied by the sqlite
// and postgres pools on startup.
package schema

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sqlite.sql
var sqliteDDL string

//go:embed postgres.sql
var postgresDDL string

// SQLite returns the SQLite DDL.
func SQLite() string { return sqliteDDL }

// Postgres returns the Postgres DDL.
func Postgres() string { return postgresDDL }

// Execer is the subset of a connection needed to apply DDL.
type Execer interface {
	ExecContext(ctx context.Context, query string) error
}

// ExecFunc adapts a function to Execer.
type ExecFunc func(ctx context.Context, query string) error

// ExecContext implements Execer.
func (f ExecFunc) ExecContext(ctx context.Context, query string) error { return f(ctx, query) }

// Apply executes every statement of ddl in order.
func Apply(ctx context.Context, exec Execer, ddl string) error {
	for _, stmt := range SplitStatements(ddl) {
		if err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}
