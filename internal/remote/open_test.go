package remote

import (
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{Driver: "memory"}, DriverMemory},
		{Config{Driver: "FS", FSRoot: t.TempDir()}, DriverFS},
		{Config{FSRoot: t.TempDir()}, DriverFS},
		{Config{Driver: "dropbox", Dropbox: DropboxConfig{Token: "tok"}}, DriverDropbox},
	}
	for _, tc := range cases {
		s, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", tc.cfg.Driver, err)
		}
		if s.Driver() != tc.want {
			t.Fatalf("open %q: got driver %s", tc.cfg.Driver, s.Driver())
		}
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{Driver: "ftp"},
		{Driver: "dropbox"},
		{Driver: "s3"},
	} {
		if _, err := Open(ctx, cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
