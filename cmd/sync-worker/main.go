package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pdvjgm/pos-backend/internal/catalog"
	"github.com/pdvjgm/pos-backend/internal/erpsync"
	"github.com/pdvjgm/pos-backend/internal/sales"
	"github.com/pdvjgm/pos-backend/internal/sessions"
	"github.com/pdvjgm/pos-backend/pkg/config"
	"github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/jobs"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/metrics"
	"github.com/pdvjgm/pos-backend/pkg/migrate"
)

// The sync worker drains the durable job queue: catalog reconciliation
// jobs enqueued by the sync orchestrator and invoice exports enqueued by
// the sales service.
func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := openDatabase(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	queueMetrics := metrics.NewQueueMetrics(registry)

	jobsRepo := jobs.NewRepository(dbClient.DB())
	jobsService, err := jobs.NewService(jobsRepo, logg, cfg.Queue.MaxAttempts)
	if err != nil {
		logg.Error(context.Background(), "failed to create jobs service", err)
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobsRepo, logg, cfg.Queue, queueMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create queue worker", err)
		os.Exit(1)
	}

	catalogService, err := catalog.NewService(catalog.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	processor, err := erpsync.NewProcessor(catalogService)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync processor", err)
		os.Exit(1)
	}
	processor.RegisterHandlers(worker)

	salesService, err := sales.NewService(
		sales.NewRepository(dbClient.DB()), dbClient, jobsService,
		nil, sessions.NewRepository(dbClient.DB()), logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create sales service", err)
		os.Exit(1)
	}
	salesService.RegisterHandlers(worker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "sync-worker",
	})
	logg.Info(ctx, "starting sync worker")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}

func openDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	if cfg.FeatureFlags.UseSQLite {
		return db.NewSQLite(ctx, "", logg)
	}
	return db.New(ctx, cfg.DB, logg)
}
