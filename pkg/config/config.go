package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	Internal     InternalConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Gateway      GatewayConfig
	Fulfillment  FulfillmentConfig
	Providers    ProvidersConfig
	Ledger       LedgerConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks rules envconfig tags cannot express.
func (c *Config) Validate() error {
	if c.Fulfillment.MaxAttempts < 1 {
		return fmt.Errorf("%s must be >= 1", EnvFulfillmentMaxAttempts)
	}
	if c.Fulfillment.BatchSize < 1 {
		return fmt.Errorf("%s must be >= 1", EnvFulfillmentBatchSize)
	}
	if c.Fulfillment.RetryBase <= 0 {
		return fmt.Errorf("%s must be positive", EnvFulfillmentRetryBase)
	}
	if c.Fulfillment.RetryJitter < 0 || c.Fulfillment.RetryJitter >= c.Fulfillment.RetryBase {
		return fmt.Errorf("%s must be in [0, %s)", EnvFulfillmentRetryJitter, EnvFulfillmentRetryBase)
	}
	switch strings.ToLower(c.Fulfillment.TriggerMode) {
	case TriggerModeLocal, TriggerModeRedis, TriggerModeOff:
	default:
		return fmt.Errorf("%s must be one of local|redis|off", EnvFulfillmentTriggerMode)
	}
	if c.Ledger.DefaultCashbackRatePercent < 0 {
		return fmt.Errorf("%s must be >= 0", EnvLedgerCashbackRate)
	}
	if c.Cron.LockTTL > c.Cron.Interval {
		return fmt.Errorf("%s must not exceed %s", EnvCronLockTTL, EnvCronInterval)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"KEYDROP_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYDROP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"KEYDROP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYDROP_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated list; empty disables CORS headers.
	CORSOrigins []string `envconfig:"KEYDROP_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYDROP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEYDROP_DB_DSN"`
	Driver string `envconfig:"KEYDROP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYDROP_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYDROP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYDROP_DB_USER"`
	LegacyPassword string `envconfig:"KEYDROP_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYDROP_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYDROP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYDROP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYDROP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYDROP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYDROP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYDROP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYDROP_REDIS_ADDR"`
	Password     string        `envconfig:"KEYDROP_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYDROP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYDROP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYDROP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYDROP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYDROP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYDROP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers the admin bearer tokens.
type JWTConfig struct {
	Secret            string `envconfig:"KEYDROP_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KEYDROP_JWT_ISSUER" default:"keydrop"`
	ExpirationMinutes int    `envconfig:"KEYDROP_JWT_EXPIRATION_MINUTES" default:"60"`
}

// PasswordConfig tunes the argon2id hashes used for reseller API keys.
type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"KEYDROP_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"KEYDROP_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"KEYDROP_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"KEYDROP_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"KEYDROP_ARGON_KEY_LEN" default:"32"`
}

type InternalConfig struct {
	Token string `envconfig:"KEYDROP_INTERNAL_TOKEN" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KEYDROP_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"KEYDROP_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"KEYDROP_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"KEYDROP_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationsTopic string `envconfig:"KEYDROP_PUBSUB_NOTIFICATIONS_TOPIC" default:"keydrop-order-notifications"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"KEYDROP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"KEYDROP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"KEYDROP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"KEYDROP_OUTBOX_RETENTION" default:"720h"`
}

// GatewayConfig holds the payment gateway merchant credentials used to verify callbacks.
type GatewayConfig struct {
	MerchantID               string        `envconfig:"KEYDROP_GATEWAY_MERCHANT_ID" required:"true"`
	Secret                   string        `envconfig:"KEYDROP_GATEWAY_SECRET" required:"true"`
	InvalidSignatureWindow   time.Duration `envconfig:"KEYDROP_GATEWAY_INVALID_SIGNATURE_WINDOW" default:"5m"`
	InvalidSignatureAlertMin int           `envconfig:"KEYDROP_GATEWAY_INVALID_SIGNATURE_ALERT_THRESHOLD" default:"5"`
	RefPrefix                string        `envconfig:"KEYDROP_GATEWAY_REF_PREFIX" default:"KD"`
	PaymentTTL               time.Duration `envconfig:"KEYDROP_GATEWAY_PAYMENT_TTL" default:"24h"`
}

type FulfillmentConfig struct {
	BatchSize    int           `envconfig:"KEYDROP_FULFILLMENT_BATCH_SIZE" default:"10"`
	MaxAttempts  int           `envconfig:"KEYDROP_FULFILLMENT_MAX_ATTEMPTS" default:"3"`
	RetryBase    time.Duration `envconfig:"KEYDROP_FULFILLMENT_RETRY_BASE" default:"1m"`
	RetryJitter  time.Duration `envconfig:"KEYDROP_FULFILLMENT_RETRY_JITTER" default:"0s"`
	StaleAfter   time.Duration `envconfig:"KEYDROP_FULFILLMENT_STALE_AFTER" default:"10m"`
	PollInterval time.Duration `envconfig:"KEYDROP_FULFILLMENT_POLL_INTERVAL" default:"30s"`
	TriggerMode  string        `envconfig:"KEYDROP_FULFILLMENT_TRIGGER_MODE" default:"local"`
}

type ProvidersConfig struct {
	Cooldown       time.Duration `envconfig:"KEYDROP_PROVIDERS_COOLDOWN" default:"5m"`
	HTTPTimeout    time.Duration `envconfig:"KEYDROP_PROVIDERS_HTTP_TIMEOUT" default:"15s"`
	CredentialsKey string        `envconfig:"KEYDROP_PROVIDERS_CREDENTIALS_KEY" required:"true"`
	GitHubBaseURL  string        `envconfig:"KEYDROP_PROVIDERS_GITHUB_BASE_URL" default:"https://api.github.com"`
}

type LedgerConfig struct {
	DefaultCashbackRatePercent int           `envconfig:"KEYDROP_LEDGER_CASHBACK_RATE_PERCENT" default:"100"`
	ReconcileWindow            time.Duration `envconfig:"KEYDROP_LEDGER_RECONCILE_WINDOW" default:"24h"`
}

// RateLimitConfig throttles the reseller API per client IP and per API key.
type RateLimitConfig struct {
	Window   time.Duration `envconfig:"KEYDROP_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit  int           `envconfig:"KEYDROP_RATE_LIMIT_IP" default:"300"`
	KeyLimit int           `envconfig:"KEYDROP_RATE_LIMIT_API_KEY" default:"600"`
}

// CronConfig drives the cron worker cadence. LockTTL should stay below Interval.
type CronConfig struct {
	Interval    time.Duration `envconfig:"KEYDROP_CRON_INTERVAL" default:"1h"`
	LockTTL     time.Duration `envconfig:"KEYDROP_CRON_LOCK_TTL" default:"55m"`
	ExpiryBatch int           `envconfig:"KEYDROP_CRON_EXPIRY_BATCH_SIZE" default:"200"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
