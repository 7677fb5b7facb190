package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/keydrop-backend/internal/app"
	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/instance"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/migrate"
	"github.com/angelmondragon/keydrop-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "fulfillment-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "fulfillment-worker"

	logg = logger.New(logger.Options{
		ServiceName: "fulfillment-worker",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// the worker never places orders, so its own trigger stays off
	cfg.Fulfillment.TriggerMode = config.TriggerModeOff
	services, err := app.Build(app.Params{
		Config:   cfg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: registry,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"interval":    cfg.Fulfillment.PollInterval.String(),
	})

	wake, err := fulfillment.SubscribeWake(ctx, redisClient, logg)
	if err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "wake-up subscription unavailable, polling only")
		wake = nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	worker := fulfillment.NewWorker(services.Fulfillment, cfg.Fulfillment.PollInterval, logg)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(ctx, "starting fulfillment worker")
		return worker.Run(groupCtx, wake)
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "fulfillment worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "fulfillment worker shutting down gracefully")
}
