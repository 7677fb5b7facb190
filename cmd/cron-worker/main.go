package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/keydrop-backend/internal/app"
	"github.com/angelmondragon/keydrop-backend/internal/cron"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
	"github.com/angelmondragon/keydrop-backend/pkg/migrate"
	"github.com/angelmondragon/keydrop-backend/pkg/outbox"
	"github.com/angelmondragon/keydrop-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
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

	cfg.Fulfillment.TriggerMode = config.TriggerModeOff
	services, err := app.Build(app.Params{
		Config:   cfg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: prometheus.DefaultRegisterer,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})

	if *once {
		ran, err := service.RunOnce(ctx)
		if err != nil {
			logg.Error(ctx, "cron cycle finished with errors", err)
			os.Exit(1)
		}
		if !ran {
			logg.Info(ctx, "cron cycle skipped, lock held elsewhere")
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *app.Services) (*cron.Registry, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewLedgerReconcileJob(cron.LedgerReconcileJobParams{
		Logger:  logg,
		Owners:  ledger.NewRepository(dbClient.DB()),
		Auditor: services.Ledger,
		Metrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		Window:  cfg.Ledger.ReconcileWindow,
	})
	if err != nil {
		return nil, err
	}
	availability, err := cron.NewProviderAvailabilityJob(cron.ProviderAvailabilityJobParams{
		Logger:   logg,
		Registry: services.Providers,
		Metrics:  services.FulfillmentMetrics,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
		Logger:    logg,
		Expirer:   services.Gateway,
		TTL:       cfg.Gateway.PaymentTTL,
		BatchSize: cfg.Cron.ExpiryBatch,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{retention, reconcile, availability, expiry} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
