// Package app assembles the domain services shared by the api and worker
// binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/keydrop-backend/internal/auth"
	"github.com/angelmondragon/keydrop-backend/internal/checkout"
	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/internal/inventory"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/orders"
	"github.com/angelmondragon/keydrop-backend/internal/providers"
	"github.com/angelmondragon/keydrop-backend/internal/settings"
	"github.com/angelmondragon/keydrop-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db"
	"github.com/angelmondragon/keydrop-backend/pkg/instance"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/metrics"
	"github.com/angelmondragon/keydrop-backend/pkg/outbox"
	"github.com/angelmondragon/keydrop-backend/pkg/redis"
	"github.com/angelmondragon/keydrop-backend/pkg/secrets"
)

// triggeredBatchTimeout bounds one in-process batch started by a trigger.
const triggeredBatchTimeout = 2 * time.Minute

type Params struct {
	Config   *config.Config
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
	Logger   *logger.Logger
}

// Services is the wired domain graph.
type Services struct {
	Auth        auth.Service
	Ledger      ledger.Service
	Settings    *settings.Service
	Orders      orders.Service
	Checkout    checkout.Service
	Providers   *providers.Registry
	Jobs        *fulfillment.Repository
	Fulfillment *fulfillment.Service
	Gateway     *gateway.Service
	Trigger     fulfillment.Trigger

	FulfillmentMetrics *metrics.FulfillmentMetrics
	WebhookMetrics     *metrics.WebhookMetrics
}

// Build wires every domain service. The trigger follows
// KEYDROP_FULFILLMENT_TRIGGER_MODE: local runs batches in this process, redis
// wakes the fulfillment workers, off leaves everything to their ticker.
func Build(p Params) (*Services, error) {
	cfg, logg := p.Config, p.Logger
	if cfg == nil || p.DB == nil {
		return nil, fmt.Errorf("config and db required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	gdb := p.DB.DB()

	svc := &Services{
		FulfillmentMetrics: metrics.NewFulfillmentMetrics(p.Registry),
		WebhookMetrics:     metrics.NewWebhookMetrics(p.Registry),
	}

	var err error
	svc.Auth, err = auth.NewService(auth.ServiceParams{
		Repo:     auth.NewRepository(gdb),
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	svc.Ledger, err = ledger.NewService(p.DB, ledger.NewRepository(gdb), logg)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	svc.Settings = settings.NewService(gdb, cfg.Ledger.DefaultCashbackRatePercent, logg)

	ordersRepo := orders.NewRepository(gdb)
	svc.Orders, err = orders.NewService(orders.ServiceParams{
		DB:       p.DB,
		Repo:     ordersRepo,
		Outbox:   outbox.NewService(outbox.NewRepository(gdb), logg),
		Points:   svc.Ledger,
		Settings: svc.Settings,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	box, err := secrets.NewBox(cfg.Providers.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("credentials box: %w", err)
	}
	svc.Providers, err = providers.NewRegistry(providers.RegistryParams{
		Repo:     providers.NewRepository(gdb),
		Box:      box,
		Cooldown: cfg.Providers.Cooldown,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("provider registry: %w", err)
	}
	dispatcher, err := providers.NewDispatcher(svc.Providers, providers.NewAdapters(
		providers.NewGitHubAdapter(cfg.Providers.GitHubBaseURL, cfg.Providers.HTTPTimeout),
		providers.NewWebhookAdapter(cfg.Providers.HTTPTimeout),
		providers.ManualAdapter{},
	), svc.FulfillmentMetrics, logg)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	svc.Jobs = fulfillment.NewRepository(gdb, cfg.Fulfillment.MaxAttempts)
	svc.Fulfillment, err = fulfillment.NewService(fulfillment.ServiceParams{
		DB:         p.DB,
		Queue:      svc.Jobs,
		Items:      ordersRepo,
		Orders:     svc.Orders,
		Allocator:  inventory.NewAllocator(p.DB, inventory.NewRepository(gdb), logg),
		Dispatcher: dispatcher,
		Backoff:    fulfillment.NewBackoff(cfg.Fulfillment.RetryBase, cfg.Fulfillment.RetryJitter),
		Metrics:    svc.FulfillmentMetrics,
		Logger:     logg,
		BatchSize:  cfg.Fulfillment.BatchSize,
		StaleAfter: cfg.Fulfillment.StaleAfter,
		Owner:      instance.GetID(),
	})
	if err != nil {
		return nil, fmt.Errorf("fulfillment service: %w", err)
	}
	svc.Trigger = newTrigger(cfg.Fulfillment.TriggerMode, svc.Fulfillment, p.Redis, logg)

	svc.Checkout, err = checkout.NewService(checkout.ServiceParams{
		DB:        p.DB,
		Repo:      checkout.NewRepository(gdb),
		Orders:    svc.Orders,
		Ledger:    svc.Ledger,
		Jobs:      svc.Jobs,
		Trigger:   svc.Trigger,
		RefPrefix: cfg.Gateway.RefPrefix,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	verifier, err := gateway.NewVerifier(cfg.Gateway.MerchantID, cfg.Gateway.Secret)
	if err != nil {
		return nil, fmt.Errorf("gateway verifier: %w", err)
	}
	gatewayParams := gateway.ServiceParams{
		DB:       p.DB,
		Repo:     gateway.NewRepository(gdb),
		Verifier: verifier,
		Orders:   svc.Orders,
		Ledger:   svc.Ledger,
		Jobs:     svc.Jobs,
		Settings: svc.Settings,
		Trigger:  svc.Trigger,
		Metrics:  svc.WebhookMetrics,
		Logger:   logg,
	}
	if p.Redis != nil {
		gatewayParams.Alerter = gateway.NewBurstAlerter(
			p.Redis,
			cfg.Gateway.InvalidSignatureWindow,
			cfg.Gateway.InvalidSignatureAlertMin,
			svc.WebhookMetrics,
			logg,
		)
	}
	svc.Gateway, err = gateway.NewService(gatewayParams)
	if err != nil {
		return nil, fmt.Errorf("gateway service: %w", err)
	}

	return svc, nil
}

// Wait blocks until in-process triggered batches finish.
func (s *Services) Wait() {
	if local, ok := s.Trigger.(*fulfillment.LocalTrigger); ok {
		local.Wait()
	}
}

func newTrigger(mode string, runner fulfillment.BatchRunner, client *redis.Client, logg *logger.Logger) fulfillment.Trigger {
	switch strings.ToLower(mode) {
	case config.TriggerModeRedis:
		if client != nil {
			return fulfillment.NewRedisTrigger(client, logg)
		}
		logg.Warn(context.Background(), "redis trigger requested without redis, falling back to local")
		return fulfillment.NewLocalTrigger(runner, triggeredBatchTimeout, logg)
	case config.TriggerModeOff:
		return fulfillment.NoopTrigger{}
	default:
		return fulfillment.NewLocalTrigger(runner, triggeredBatchTimeout, logg)
	}
}
