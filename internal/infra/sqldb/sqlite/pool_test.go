package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

func TestOpenAppliesSchema(t *testing.T) {
	pool, err := Open(context.Background(), filepath.Join(t.TempDir(), "portal.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	if pool.Dialect() != sqlexec.DialectSQLite {
		t.Fatalf("unexpected dialect %s", pool.Dialect())
	}
	rs, err := pool.Query(context.Background(), "SELECT name FROM sqlite_master WHERE type='table' AND name = @name", []sqlexec.Param{
		{Name: "name", Type: queryapi.TypeNVarChar, Value: "tblData_Submissions"},
	})
	if err != nil {
		t.Fatalf("lookup table: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0]["name"] != "tblData_Submissions" {
		t.Fatalf("expected submissions table, got %+v", rs.Rows)
	}
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	pool, err := Open(ctx, ":memory:")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	insert := pool.Dialect().InsertReturning("tblCollections", "Collection_ID", []string{"User_ID", "Collection_Name"})
	rs, err := tx.Query(ctx, insert, []sqlexec.Param{
		{Name: "User_ID", Type: queryapi.TypeInt, Value: int64(7)},
		{Name: "Collection_Name", Type: queryapi.TypeNVarChar, Value: "mine"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(rs.Rows) != 1 {
		t.Fatalf("expected generated key row, got %+v", rs)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second rollback should be a no-op: %v", err)
	}
	rs, err = pool.Query(ctx, "SELECT COUNT(*) AS n FROM tblCollections", nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if rs.Rows[0]["n"] != int64(0) {
		t.Fatalf("expected rollback to discard insert, got %v", rs.Rows[0]["n"])
	}
}

func TestCommitPersists(t *testing.T) {
	ctx := context.Background()
	pool, err := Open(ctx, ":memory:")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	n, err := tx.Exec(ctx, "INSERT INTO tblDatasets (Dataset_Name, Dataset_Long_Name) VALUES (@short, @long)", []sqlexec.Param{
		{Name: "short", Type: queryapi.TypeNVarChar, Value: "SST"},
		{Name: "long", Type: queryapi.TypeNVarChar, Value: "Sea Surface Temperature"},
	})
	if err != nil || n != 1 {
		t.Fatalf("insert: n=%d err=%v", n, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
	rs, err := pool.Query(ctx, "SELECT Dataset_Long_Name FROM tblDatasets WHERE Dataset_Name = @short", []sqlexec.Param{
		{Name: "short", Type: queryapi.TypeNVarChar, Value: "SST"},
	})
	if err != nil || len(rs.Rows) != 1 {
		t.Fatalf("select: %+v %v", rs, err)
	}
	if rs.Rows[0]["Dataset_Long_Name"] != "Sea Surface Temperature" {
		t.Fatalf("unexpected row %+v", rs.Rows[0])
	}
}
