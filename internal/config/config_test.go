package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Workflow.CopyMaxAttempts != 8 || cfg.Notify.QueueSize != 64 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Notify.SendTimeout != 30*time.Second || cfg.HTTP.ShutdownTimeout != 15*time.Second {
		t.Fatalf("durations not decoded: %+v", cfg)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "portal.yaml")
	body := "sql:\n  driver: mssql\n  dsn: sqlserver://file\nremote:\n  driver: dropbox\n  dropbox:\n    token: from-file\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DATAPORTAL_SQL_DSN", "sqlserver://env")
	t.Setenv("DATAPORTAL_WORKFLOW_COPY_MAX_ATTEMPTS", "3")

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := []any{cfg.SQL.Driver, cfg.SQL.DSN, cfg.Remote.Driver, cfg.Remote.Dropbox.Token, cfg.Workflow.CopyMaxAttempts}
	want := []any{"mssql", "sqlserver://env", "dropbox", "from-file", 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, _ := Load("")
	cfg.SQL.Driver = "oracle"
	cfg.Remote.Driver = "s3"
	cfg.Mail.Driver = "ses"
	cfg.Notify.QueueSize = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{
		"sql.driver must be one of mssql, sqlite, postgres",
		"remote.s3.bucket is required for the s3 driver",
		"mail.from is required for the ses driver",
		"notify.queue_size must be positive",
		"log.level must be one of debug, info, warn, error",
	}
	if diff := cmp.Diff(want, ve.Problems); diff != "" {
		t.Fatalf("problems mismatch (-want +got):\n%s", diff)
	}
}
