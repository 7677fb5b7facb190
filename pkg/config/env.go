package config

const EnvPrefix = "KEYDROP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	TriggerModeLocal = "local"
	TriggerModeRedis = "redis"
	TriggerModeOff   = "off"
)

const (
	EnvAppEnv   = "KEYDROP_APP_ENV"
	EnvPort     = "KEYDROP_APP_PORT"
	EnvLogLevel = "KEYDROP_LOG_LEVEL"

	EnvDBDSN  = "KEYDROP_DB_DSN"
	EnvDBHost = "KEYDROP_DB_HOST"
	EnvDBUser = "KEYDROP_DB_USER"
	EnvDBName = "KEYDROP_DB_NAME"

	EnvRedisURL = "KEYDROP_REDIS_URL"

	EnvJWTSecret     = "KEYDROP_JWT_SECRET"
	EnvInternalToken = "KEYDROP_INTERNAL_TOKEN"

	EnvGatewayMerchantID = "KEYDROP_GATEWAY_MERCHANT_ID"
	EnvGatewaySecret     = "KEYDROP_GATEWAY_SECRET"

	EnvFulfillmentBatchSize   = "KEYDROP_FULFILLMENT_BATCH_SIZE"
	EnvFulfillmentMaxAttempts = "KEYDROP_FULFILLMENT_MAX_ATTEMPTS"
	EnvFulfillmentRetryBase   = "KEYDROP_FULFILLMENT_RETRY_BASE"
	EnvFulfillmentRetryJitter = "KEYDROP_FULFILLMENT_RETRY_JITTER"
	EnvFulfillmentTriggerMode = "KEYDROP_FULFILLMENT_TRIGGER_MODE"

	EnvProvidersCredentialsKey = "KEYDROP_PROVIDERS_CREDENTIALS_KEY"

	EnvLedgerCashbackRate = "KEYDROP_LEDGER_CASHBACK_RATE_PERCENT"

	EnvCronInterval = "KEYDROP_CRON_INTERVAL"
	EnvCronLockTTL  = "KEYDROP_CRON_LOCK_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
