package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dataportal/internal/config"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.SQL.DSN = ":memory:"
	cfg.Remote.Driver = "memory"
	cfg.Mail.Driver = "memory"
	return cfg
}

func TestApplicationServesRoutes(t *testing.T) {
	ctx := context.Background()
	app, err := newApplication(ctx, memoryConfig(t), newLogger(config.Log{Level: "error"}, io.Discard))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	srv := httptest.NewServer(app.handler)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/api/news/list", "/api/catalog/datasets", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/api/collections")
	if err != nil {
		t.Fatalf("get collections: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous collections: status %d", resp.StatusCode)
	}

	if err := app.close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCheckConfigCommand(t *testing.T) {
	t.Setenv("DATAPORTAL_REMOTE_DRIVER", "memory")
	var out bytes.Buffer
	cmd := NewRootCommand(&out, io.Discard)
	cmd.SetArgs([]string{"check-config"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if got := out.String(); got != "configuration ok: sql=sqlite remote=memory mail=log\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestCheckConfigReportsProblems(t *testing.T) {
	t.Setenv("DATAPORTAL_REMOTE_DRIVER", "ftp")
	t.Setenv("DATAPORTAL_NOTIFY_QUEUE_SIZE", "0")
	cmd := NewRootCommand(io.Discard, io.Discard)
	cmd.SetArgs([]string{"check-config"})
	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"remote.driver must be one of", "notify.queue_size must be positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}
