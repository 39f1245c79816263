package main

// @title           Sercha Ingest API
// @version         1.0
// @description     Durable document ingestion: fetch, parse, chunk, embed and upsert orchestrated by an event-sourced workflow engine.

// @contact.name   Sercha OSS
// @contact.url    https://github.com/custodia-labs/sercha-ingest/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/pgvector"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-ingest/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sercha-ingest",
		Short:         "Durable document ingestion service",
		Long:          "sercha-ingest fetches, parses, chunks, embeds and upserts documents through an event-sourced workflow engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "api",
			Short: "Serve the HTTP API without processing tasks",
			RunE:  run(runAPI),
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Process workflow and activity tasks without serving HTTP",
			RunE:  run(runWorker),
		},
		&cobra.Command{
			Use:   "all",
			Short: "Serve the HTTP API and process tasks in one process",
			Long:  "Serve the HTTP API and process tasks in one process. This is the only mode in which memory backends are shared between the API and the worker.",
			RunE:  run(runAll),
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// setup loads configuration and installs the process logger
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// run wraps a mode with configuration, signal handling and backend lifecycle
func run(mode func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("sercha-ingest starting", "version", version, "mode", cmd.Name())

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		return mode(ctx, a)
	}
}

func runAPI(ctx context.Context, a *app) error {
	return a.newServer(version).Start(ctx)
}

func runWorker(ctx context.Context, a *app) error {
	w := a.newWorker()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	a.logger.Info("stopping worker")
	w.Stop()
	return nil
}

func runAll(ctx context.Context, a *app) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runWorker(ctx, a) })
	g.Go(func() error { return runAPI(ctx, a) })
	return g.Wait()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if !cfg.NeedsPostgres() {
		logger.Info("no postgres backend configured, nothing to migrate")
		return nil
	}

	v, err := postgres.Migrate(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	logger.Info("database migrated", "version", v)

	if cfg.VectorBackend != config.BackendPGVector {
		return nil
	}
	db, err := postgres.Connect(cmd.Context(), postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := pgvector.NewStore(db).EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	logger.Info("vector schema ready")
	return nil
}
