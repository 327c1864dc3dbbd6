package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"dataportal/internal/infra/remote/dropbox"
	"dataportal/internal/infra/remote/fs"
	"dataportal/internal/infra/remote/memory"
	infraS3 "dataportal/internal/infra/remote/s3"
)

// S3Config re-exports the S3 driver configuration.
type S3Config = infraS3.Config

// DropboxConfig configures the Dropbox driver.
type DropboxConfig struct {
	Token    string
	APIBase  string
	RetryMax int
}

// Config selects and configures a storage driver.
type Config struct {
	Driver  string // memory|fs|s3|dropbox (default fs)
	FSRoot  string
	S3      S3Config
	Dropbox DropboxConfig
	// Logger receives HTTP retry diagnostics from the Dropbox driver.
	Logger retryablehttp.LeveledLogger
}

// Open constructs the Storage named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = string(DriverFS)
	}
	switch Driver(driver) {
	case DriverFS:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverDropbox:
		return dropbox.New(dropbox.Config{
			Token:    cfg.Dropbox.Token,
			APIBase:  cfg.Dropbox.APIBase,
			RetryMax: cfg.Dropbox.RetryMax,
			Logger:   cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown remote driver %s", cfg.Driver)
	}
}
