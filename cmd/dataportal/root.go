package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dataportal/internal/config"
)

// NewRootCommand builds the dataportal command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	v := config.New()
	var file string

	rc := &cobra.Command{
		Use:           "dataportal",
		Short:         "Scientific data portal API server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	rc.PersistentFlags().StringVarP(&file, "config", "c", "", "Configuration file (yaml, toml or json).")

	rc.AddCommand(newServeCommand(v, &file, stderr))
	rc.AddCommand(newCheckConfigCommand(v, &file))
	return rc
}

// loadConfig reads and validates configuration for a subcommand.
func loadConfig(v *viper.Viper, file string) (config.Config, error) {
	cfg, err := config.LoadWith(v, file)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newCheckConfigCommand(v *viper.Viper, file *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, *file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: sql=%s remote=%s mail=%s\n", cfg.SQL.Driver, cfg.Remote.Driver, cfg.Mail.Driver)
			return nil
		},
	}
}

func newLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
