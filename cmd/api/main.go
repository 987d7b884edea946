package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pdvjgm/pos-backend/api/routes"
	"github.com/pdvjgm/pos-backend/internal/catalog"
	"github.com/pdvjgm/pos-backend/internal/dlq"
	"github.com/pdvjgm/pos-backend/internal/erpsync"
	"github.com/pdvjgm/pos-backend/internal/sales"
	"github.com/pdvjgm/pos-backend/internal/sessions"
	"github.com/pdvjgm/pos-backend/pkg/config"
	"github.com/pdvjgm/pos-backend/pkg/db"
	"github.com/pdvjgm/pos-backend/pkg/jobs"
	"github.com/pdvjgm/pos-backend/pkg/lock"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/metrics"
	"github.com/pdvjgm/pos-backend/pkg/migrate"
	"github.com/pdvjgm/pos-backend/pkg/payment"
	"github.com/pdvjgm/pos-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	lockService, err := lock.NewService(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create lock service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	jobsRepo := jobs.NewRepository(dbClient.DB())
	jobsService, err := jobs.NewService(jobsRepo, logg, cfg.Queue.MaxAttempts)
	if err != nil {
		logg.Error(context.Background(), "failed to create jobs service", err)
		os.Exit(1)
	}

	catalogService, err := catalog.NewService(catalog.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	syncService, err := erpsync.NewService(newFeedSource(cfg, logg), jobsService, logg, syncMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync service", err)
		os.Exit(1)
	}

	dlqService, err := dlq.NewService(jobsRepo, logg, cfg.Queue.MaxManualRetries)
	if err != nil {
		logg.Error(context.Background(), "failed to create dlq service", err)
		os.Exit(1)
	}

	var gateway payment.Gateway
	if cfg.Payment.GatewayBaseURL != "" {
		client, err := payment.NewClient(cfg.Payment, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create payment client", err)
			os.Exit(1)
		}
		gateway = client
	}

	sessionsRepo := sessions.NewRepository(dbClient.DB())
	salesService, err := sales.NewService(sales.NewRepository(dbClient.DB()), dbClient, jobsService, gateway, sessionsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sales service", err)
		os.Exit(1)
	}

	sessionsService, err := sessions.NewService(sessionsRepo, catalogService, logg, "")
	if err != nil {
		logg.Error(context.Background(), "failed to create sessions service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg,
			dbClient, redisClient, lockService, registry,
			syncService, dlqService, salesService, sessionsService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	if cfg.FeatureFlags.UseSQLite {
		return db.NewSQLite(ctx, "", logg)
	}
	return db.New(ctx, cfg.DB, logg)
}

// newFeedSource picks the real upstream when one is configured and the
// seeded in-memory feed otherwise, so dev environments work offline.
func newFeedSource(cfg *config.Config, logg *logger.Logger) erpsync.Source {
	if cfg.Sync.FeedBaseURL == "" {
		logg.Warn(context.Background(), "no ERP feed configured, using seeded static source")
		return erpsync.NewSeededStaticSource()
	}
	source, err := erpsync.NewHTTPSource(cfg.Sync)
	if err != nil {
		logg.Error(context.Background(), "failed to create feed source", err)
		os.Exit(1)
	}
	return source
}
