package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/alexanderramin/blueprint/internal/archive"
	"github.com/alexanderramin/blueprint/internal/cli"
	"github.com/alexanderramin/blueprint/internal/config"
	"github.com/alexanderramin/blueprint/internal/contextwindow"
	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/db"
	"github.com/alexanderramin/blueprint/internal/intelligence"
	"github.com/alexanderramin/blueprint/internal/llm"
	"github.com/alexanderramin/blueprint/internal/observability"
	"github.com/alexanderramin/blueprint/internal/repository"
	"github.com/alexanderramin/blueprint/internal/server"
	"github.com/alexanderramin/blueprint/internal/service"
)

var version = "dev"

func main() {
	app := &cli.App{}
	app.IsInteractive = func() bool {
		return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	}

	var closers []func(context.Context) error
	app.Setup = func(ctx context.Context, opts cli.GlobalOptions) error {
		cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
		if err != nil {
			return err
		}
		if opts.DBPath != "" {
			cfg.Store.Driver = config.DriverSQLite
			cfg.Store.Path = opts.DBPath
		}
		if opts.LogLevel != "" {
			cfg.Log.Level = opts.LogLevel
		}
		closers, err = wire(ctx, app, cfg)
		return err
	}
	app.Teardown = func(ctx context.Context) error {
		var errs []error
		// Close in reverse order of setup.
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		closers = nil
		return errors.Join(errs...)
	}

	if err := cli.Execute(context.Background(), app, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// wire builds the session host from cfg and installs it on app. The returned
// closers release what was opened, including on error.
func wire(ctx context.Context, app *cli.App, cfg config.Config) ([]func(context.Context) error, error) {
	var closers []func(context.Context) error

	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTracer(ctx, cfg.Telemetry.ServiceName, version, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return closers, fmt.Errorf("initializing tracing: %w", err)
		}
		closers = append(closers, shutdown)
	}

	// Open database
	database, dialect, err := openStore(ctx, cfg.Store)
	if err != nil {
		return closers, err
	}
	closers = append(closers, func(context.Context) error { return database.Close() })

	// Wire LLM and composer
	observers := llm.MultiObserver{observability.MetricsObserver{}}
	if cfg.LLM.LogCalls {
		observers = append(observers, llm.NewLogObserver(logger))
	}
	client, err := llm.New(ctx, cfg.LLM, observers)
	if err != nil {
		return closers, fmt.Errorf("creating llm client: %w", err)
	}
	composeTimeout := time.Duration(cfg.Session.ComposeTimeoutMs) * time.Millisecond
	composer := intelligence.NewComposer(client,
		intelligence.WithLogger(logger),
		intelligence.WithTimeout(composeTimeout),
	)
	machine := conversation.NewMachine(composer,
		conversation.WithLogger(logger),
		conversation.WithWindow(contextwindow.New(cfg.Session.HistoryLimit)),
		conversation.WithComposeTimeout(composeTimeout),
	)

	var archiver archive.Archiver = archive.Noop{}
	if cfg.Archive.Enabled {
		s3, err := archive.NewS3Archiver(archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return closers, fmt.Errorf("creating archive: %w", err)
		}
		archiver = s3
	}

	// Wire session service
	svc, err := service.NewSessionService(machine,
		repository.NewSnapshotRepo(database, dialect),
		db.NewUnitOfWork(database),
		func(tx db.DBTX) repository.SnapshotRepo { return repository.NewSnapshotRepo(tx, dialect) },
		service.WithCacheSize(cfg.Session.CacheSize),
		service.WithArchiver(archiver),
		service.WithRetryPolicy(service.RetryPolicy{
			Attempts: cfg.Session.PersistAttempts,
			Base:     time.Duration(cfg.Session.PersistBackoffMs) * time.Millisecond,
			Max:      2 * time.Second,
		}),
		service.WithLogger(logger),
		service.WithUseCaseObserver(service.NewLogUseCaseObserver(logger)),
	)
	if err != nil {
		return closers, err
	}
	closers = append(closers, svc.Close)

	app.Sessions = svc
	app.Serve = func(ctx context.Context, addr string) error {
		if addr == "" {
			addr = cfg.Server.Addr
		}
		srv := server.New(svc,
			server.WithLogger(logger),
			server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		)
		return srv.ListenAndServe(ctx, addr)
	}
	return closers, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*sql.DB, db.Dialect, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		database, err := db.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("opening postgres: %w", err)
		}
		return database, db.DialectPostgres, nil
	default:
		database, err := db.OpenDB(cfg.Path)
		if err != nil {
			return nil, "", fmt.Errorf("opening database: %w", err)
		}
		return database, db.DialectSQLite, nil
	}
}
