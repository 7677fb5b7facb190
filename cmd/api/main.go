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

	"github.com/angelmondragon/keydrop-backend/api/routes"
	"github.com/angelmondragon/keydrop-backend/internal/app"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/instance"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/migrate"
	"github.com/angelmondragon/keydrop-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

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
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"instance":     instance.GetID(),
		"trigger_mode": cfg.Fulfillment.TriggerMode,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Cache:       redisClient,
			Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			Auth:        services.Auth,
			Checkout:    services.Checkout,
			Orders:      services.Orders,
			Ledger:      services.Ledger,
			Accounts:    services.Providers,
			Jobs:        services.Jobs,
			Fulfillment: services.Fulfillment,
			Webhook:     services.Gateway,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		services.Wait()
	}
}
