package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/keydrop-backend/api/controllers/webhooks"
	"github.com/angelmondragon/keydrop-backend/api/middleware"
	"github.com/angelmondragon/keydrop-backend/internal/auth"
	checkoutsvc "github.com/angelmondragon/keydrop-backend/internal/checkout"
	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	"github.com/angelmondragon/keydrop-backend/internal/ledger"
	"github.com/angelmondragon/keydrop-backend/internal/orders"
	"github.com/angelmondragon/keydrop-backend/internal/providers"
	"github.com/angelmondragon/keydrop-backend/pkg/config"
	"github.com/angelmondragon/keydrop-backend/pkg/db/models"
	"github.com/angelmondragon/keydrop-backend/pkg/enums"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/pagination"
	pkgredis "github.com/angelmondragon/keydrop-backend/pkg/redis"
)

// Cache is the redis surface the HTTP layer needs.
type Cache interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

type AccountRegistry interface {
	CreateAccount(ctx context.Context, input providers.CreateAccountInput) (*models.ProviderAccount, error)
	Reset(ctx context.Context, accountID uuid.UUID) (*models.ProviderAccount, error)
}

type JobLister interface {
	List(ctx context.Context, status *enums.JobStatus, params pagination.Params) (pagination.Page[models.FulfillmentJob], error)
}

type JobProcessor interface {
	ProcessBatch(ctx context.Context) ([]fulfillment.JobResult, error)
	ProcessJob(ctx context.Context, id uuid.UUID) ([]fulfillment.JobResult, error)
}

type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      controllers.Pinger
	Cache   Cache
	Metrics http.Handler

	Auth        auth.Service
	Checkout    checkoutsvc.Service
	Orders      orders.Service
	Ledger      ledger.Service
	Accounts    AccountRegistry
	Jobs        JobLister
	Fulfillment JobProcessor
	Webhook     webhookcontrollers.GatewayWebhookService
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.RateLimit.Window,
		cfg.RateLimit.IPLimit,
		cfg.RateLimit.KeyLimit,
	)
	idempotency := middleware.Idempotency(p.Cache, cfg.Eventing.IdempotencyTTL, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Cache,
		}, logg))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		gw := webhookcontrollers.GatewayWebhook(p.Webhook, logg)
		r.Post("/gateway", gw)
		r.Get("/gateway", gw)
	})

	r.Route("/api/internal/v1", func(r chi.Router) {
		r.Use(middleware.InternalToken(cfg.Internal.Token, logg))
		r.Post("/fulfillment/run", controllers.RunFulfillment(p.Fulfillment, logg))
	})

	r.Route("/api/v1/reseller", func(r chi.Router) {
		r.Use(
			middleware.RateLimit(apiPolicy, p.Cache, logg),
			middleware.ResellerAuth(p.Auth, logg),
			idempotency,
		)
		r.Post("/orders", controllers.ResellerPlaceOrder(p.Checkout, logg))
		r.Get("/orders/{orderId}", controllers.ResellerGetOrder(p.Orders, logg))
		r.Post("/topups", controllers.ResellerCreateTopup(p.Checkout, logg))
		r.Get("/wallet", controllers.ResellerWallet(p.Ledger, logg))
		r.Get("/wallet/transactions", controllers.ResellerWalletTransactions(p.Ledger, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(
			middleware.AdminAuth(cfg.JWT, logg),
			idempotency,
		)
		r.Get("/fulfillment/jobs", controllers.AdminListJobs(p.Jobs, logg))
		r.Post("/provider-accounts", controllers.AdminCreateProviderAccount(p.Accounts, logg))
		r.Post("/provider-accounts/{accountId}/reset", controllers.AdminResetProviderAccount(p.Accounts, logg))
		r.Get("/ledger/wallets/{ownerId}/audit", controllers.AdminAuditWallet(p.Ledger, logg))
		r.Post("/resellers", controllers.AdminRegisterReseller(p.Auth, logg))
	})

	return r
}
