package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dataportal/internal/adapters/httpapi"
	"dataportal/internal/catalog"
	"dataportal/internal/config"
	"dataportal/internal/ctxlog"
	"dataportal/internal/infra/mail/logmail"
	mailmemory "dataportal/internal/infra/mail/memory"
	"dataportal/internal/infra/mail/ses"
	"dataportal/internal/notify"
	"dataportal/internal/observability"
	"dataportal/internal/remote"
	"dataportal/internal/retry"
	"dataportal/internal/sqldb"
	"dataportal/internal/sqlexec"
	"dataportal/internal/submission"
)

func newServeCommand(v *viper.Viper, file *string, logOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, *file)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.Log, logOut))
		},
	}
	cmd.Flags().String("addr", "", "Listen address, overrides http.addr.")
	_ = v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// application holds the wired dependencies of a running server.
type application struct {
	handler http.Handler
	pool    sqlexec.Pool
	worker  *notify.Worker
}

func newApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *application, err error) {
	ctx = ctxlog.WithLogger(ctx, logger)
	metrics := observability.NewPrometheus("dataportal")

	pool, err := sqldb.Open(ctx, cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening sql pool")
	}
	defer func() {
		if err != nil {
			_ = pool.Close()
		}
	}()

	store, err := remote.Open(ctx, remote.Config{
		Driver: cfg.Remote.Driver,
		FSRoot: cfg.Remote.FSRoot,
		S3: remote.S3Config{
			Region:          cfg.Remote.S3.Region,
			Bucket:          cfg.Remote.S3.Bucket,
			Endpoint:        cfg.Remote.S3.Endpoint,
			PathStyle:       cfg.Remote.S3.PathStyle,
			CopyConcurrency: cfg.Remote.S3.CopyConcurrency,
		},
		Dropbox: remote.DropboxConfig{
			Token:    cfg.Remote.Dropbox.Token,
			APIBase:  cfg.Remote.Dropbox.APIBase,
			RetryMax: cfg.Remote.Dropbox.RetryMax,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening remote storage")
	}

	sender, err := newSender(ctx, cfg.Mail, logger)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "configuring mail")
	}
	worker := notify.NewWorker(ctx, sender, notify.Options{
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.SendTimeout,
		Metrics:     metrics,
	})

	svc := submission.NewService(submission.Options{
		Remote:   store,
		Repo:     submission.NewSQLRepository(pool),
		Poller:   retry.New(cfg.Workflow.CopyMaxAttempts, true),
		Notifier: notify.NewNotifier(worker, cfg.Mail.Admin),
		Metrics:  metrics,
	})

	cat, err := catalog.New(pool.Dialect())
	if err != nil {
		return nil, err
	}
	handler, err := httpapi.NewRouter(httpapi.Config{
		Catalog:       cat,
		Runner:        sqlexec.NewExecutor(pool, metrics),
		Workflows:     svc,
		Metrics:       metrics.Handler(),
		Logger:        logger,
		MaxChunkBytes: cfg.HTTP.MaxChunkBytes,
	})
	if err != nil {
		return nil, err
	}
	worker.Start()
	return &application{handler: handler, pool: pool, worker: worker}, nil
}

// close drains pending notifications and releases the pool.
func (a *application) close(ctx context.Context) error {
	werr := a.worker.Stop(ctx)
	perr := a.pool.Close()
	return errors.Join(werr, perr)
}

func newSender(ctx context.Context, cfg config.Mail, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.Driver {
	case "ses":
		return ses.New(ctx, ses.Config{Region: cfg.Region, From: cfg.From, Endpoint: cfg.Endpoint})
	case "memory":
		return mailmemory.New(), nil
	default:
		return logmail.New(logger), nil
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "sql", cfg.SQL.Driver, "remote", cfg.Remote.Driver)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if err := app.close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}
