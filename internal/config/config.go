// Package config loads portal settings from an optional file and
// DATAPORTAL_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable, e.g.
// DATAPORTAL_SQL_DSN for sql.dsn.
const EnvPrefix = "DATAPORTAL"

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxChunkBytes   int64         `mapstructure:"max_chunk_bytes"`
}

type SQL struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	CopyConcurrency int    `mapstructure:"copy_concurrency"`
}

type Dropbox struct {
	Token    string `mapstructure:"token"`
	APIBase  string `mapstructure:"api_base"`
	RetryMax int    `mapstructure:"retry_max"`
}

type Remote struct {
	Driver  string  `mapstructure:"driver"`
	FSRoot  string  `mapstructure:"fs_root"`
	S3      S3      `mapstructure:"s3"`
	Dropbox Dropbox `mapstructure:"dropbox"`
}

type Mail struct {
	Driver   string `mapstructure:"driver"`
	From     string `mapstructure:"from"`
	Admin    string `mapstructure:"admin"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type Workflow struct {
	CopyMaxAttempts int `mapstructure:"copy_max_attempts"`
}

type Notify struct {
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full portal configuration.
type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	SQL      SQL      `mapstructure:"sql"`
	Remote   Remote   `mapstructure:"remote"`
	Mail     Mail     `mapstructure:"mail"`
	Workflow Workflow `mapstructure:"workflow"`
	Notify   Notify   `mapstructure:"notify"`
	Log      Log      `mapstructure:"log"`
}

var defaults = map[string]any{
	"http.addr":                  ":8080",
	"http.shutdown_timeout":      "15s",
	"http.max_chunk_bytes":       int64(150 << 20),
	"sql.driver":                 "sqlite",
	"sql.dsn":                    "dataportal.db",
	"remote.driver":              "fs",
	"remote.fs_root":             "data/remote",
	"remote.s3.bucket":           "",
	"remote.s3.region":           "us-east-1",
	"remote.s3.endpoint":         "",
	"remote.s3.path_style":       false,
	"remote.s3.copy_concurrency": 8,
	"remote.dropbox.token":       "",
	"remote.dropbox.api_base":    "",
	"remote.dropbox.retry_max":   4,
	"mail.driver":                "log",
	"mail.from":                  "",
	"mail.admin":                 "",
	"mail.region":                "",
	"mail.endpoint":              "",
	"workflow.copy_max_attempts": 8,
	"notify.queue_size":          64,
	"notify.send_timeout":        "30s",
	"log.level":                  "info",
	"log.format":                 "json",
}

// New returns a viper instance carrying the defaults and environment
// binding. Every key has a default so AutomaticEnv can see it during
// Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when non-empty) and the environment into a Config.
// Environment values win over the file.
func Load(file string) (Config, error) {
	return LoadWith(New(), file)
}

// LoadWith is Load over a caller-prepared viper, e.g. one with flags bound.
func LoadWith(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading configuration file %s", file)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decoding configuration")
	}
	return cfg, nil
}

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add("http.addr is required")
	}
	if c.HTTP.MaxChunkBytes <= 0 {
		add("http.max_chunk_bytes must be positive")
	}
	switch c.SQL.Driver {
	case "mssql", "sqlite", "postgres":
	default:
		add("sql.driver must be one of mssql, sqlite, postgres")
	}
	if c.SQL.Driver != "sqlite" && strings.TrimSpace(c.SQL.DSN) == "" {
		add("sql.dsn is required for %s", c.SQL.Driver)
	}
	switch c.Remote.Driver {
	case "memory":
	case "fs":
		if strings.TrimSpace(c.Remote.FSRoot) == "" {
			add("remote.fs_root is required for the fs driver")
		}
	case "s3":
		if strings.TrimSpace(c.Remote.S3.Bucket) == "" {
			add("remote.s3.bucket is required for the s3 driver")
		}
	case "dropbox":
		if strings.TrimSpace(c.Remote.Dropbox.Token) == "" {
			add("remote.dropbox.token is required for the dropbox driver")
		}
	default:
		add("remote.driver must be one of memory, fs, s3, dropbox")
	}
	switch c.Mail.Driver {
	case "log", "memory":
	case "ses":
		if strings.TrimSpace(c.Mail.From) == "" {
			add("mail.from is required for the ses driver")
		}
	default:
		add("mail.driver must be one of log, ses, memory")
	}
	if c.Workflow.CopyMaxAttempts < 0 {
		add("workflow.copy_max_attempts must not be negative")
	}
	if c.Notify.QueueSize <= 0 {
		add("notify.queue_size must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format must be json or text")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
