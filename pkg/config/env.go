package config

const (
	EnvPrefix = "PROMPTCRAFT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "PROMPTCRAFT_APP_ENV"
	EnvPort   = "PROMPTCRAFT_APP_PORT"

	EnvDBDSN  = "PROMPTCRAFT_DB_DSN"
	EnvDBHost = "PROMPTCRAFT_DB_HOST"
	EnvDBPort = "PROMPTCRAFT_DB_PORT"
	EnvDBUser = "PROMPTCRAFT_DB_USER"
	EnvDBPass = "PROMPTCRAFT_DB_PASSWORD"
	EnvDBName = "PROMPTCRAFT_DB_NAME"

	EnvRedisURL = "PROMPTCRAFT_REDIS_URL"

	EnvJWTSecret              = "PROMPTCRAFT_JWT_SECRET"
	EnvJWTIssuer              = "PROMPTCRAFT_JWT_ISSUER"
	EnvJWTExpMins             = "PROMPTCRAFT_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "PROMPTCRAFT_REFRESH_TOKEN_TTL_MINUTES"

	EnvUseSQLite = "PROMPTCRAFT_USE_SQLITE"

	EnvGCPProjectID        = "PROMPTCRAFT_GCP_PROJECT_ID"
	EnvPubSubLedgerTopic   = "PROMPTCRAFT_PUBSUB_LEDGER_TOPIC"
	EnvPubSubLedgerSub     = "PROMPTCRAFT_PUBSUB_LEDGER_SUBSCRIPTION"
	EnvPixAccessToken      = "PROMPTCRAFT_PIX_ACCESS_TOKEN"
	EnvPixWebhookSecret    = "PROMPTCRAFT_PIX_WEBHOOK_SECRET"
	EnvPixExpirationMins   = "PROMPTCRAFT_PIX_EXPIRATION_MINUTES"
	EnvCreditsSignup       = "PROMPTCRAFT_CREDITS_SIGNUP"
	EnvReconcilerRetryBase = "PROMPTCRAFT_RECONCILER_RETRY_BASE"
)

// legacyDBEnvVars must all be set when no DSN is provided.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
