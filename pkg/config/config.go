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
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Pix          PixConfig
	Reconciler   ReconcilerConfig
	Credits      CreditsConfig
	Sync         SyncConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PROMPTCRAFT_APP_ENV" required:"true"`
	Port         string `envconfig:"PROMPTCRAFT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PROMPTCRAFT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PROMPTCRAFT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PROMPTCRAFT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"PROMPTCRAFT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PROMPTCRAFT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PROMPTCRAFT_DB_DSN"`
	Driver string `envconfig:"PROMPTCRAFT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PROMPTCRAFT_DB_HOST"`
	LegacyPort     int    `envconfig:"PROMPTCRAFT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PROMPTCRAFT_DB_USER"`
	LegacyPassword string `envconfig:"PROMPTCRAFT_DB_PASSWORD"`
	LegacyName     string `envconfig:"PROMPTCRAFT_DB_NAME"`
	LegacySSLMode  string `envconfig:"PROMPTCRAFT_DB_SSLMODE" default:"disable"`

	// SQLitePath is only read when the sqlite feature flag is on.
	SQLitePath string `envconfig:"PROMPTCRAFT_DB_SQLITE_PATH" default:"file:promptcraft.db?cache=shared&_busy_timeout=5000"`

	MaxOpenConns    int           `envconfig:"PROMPTCRAFT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PROMPTCRAFT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PROMPTCRAFT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PROMPTCRAFT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PROMPTCRAFT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PROMPTCRAFT_REDIS_ADDR"`
	Password     string        `envconfig:"PROMPTCRAFT_REDIS_PASSWORD"`
	DB           int           `envconfig:"PROMPTCRAFT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PROMPTCRAFT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PROMPTCRAFT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PROMPTCRAFT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PROMPTCRAFT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PROMPTCRAFT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"PROMPTCRAFT_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"PROMPTCRAFT_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"PROMPTCRAFT_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"PROMPTCRAFT_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type RateLimitConfig struct {
	SignupWindow        time.Duration `envconfig:"PROMPTCRAFT_RATE_LIMIT_SIGNUP_WINDOW" default:"5m"`
	SignupIPLimit       int           `envconfig:"PROMPTCRAFT_RATE_LIMIT_SIGNUP_IP_LIMIT" default:"20"`
	SignupEmailLimit    int           `envconfig:"PROMPTCRAFT_RATE_LIMIT_SIGNUP_EMAIL_LIMIT" default:"5"`
	PaymentWindow       time.Duration `envconfig:"PROMPTCRAFT_RATE_LIMIT_PAYMENT_WINDOW" default:"1m"`
	PaymentIPLimit      int           `envconfig:"PROMPTCRAFT_RATE_LIMIT_PAYMENT_IP_LIMIT" default:"30"`
	PaymentAccountLimit int           `envconfig:"PROMPTCRAFT_RATE_LIMIT_PAYMENT_ACCOUNT_LIMIT" default:"5"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PROMPTCRAFT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PROMPTCRAFT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"PROMPTCRAFT_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

// GCPConfig is optional; Pub/Sub fan-out is skipped when ProjectID is empty.
type GCPConfig struct {
	ProjectID              string `envconfig:"PROMPTCRAFT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PROMPTCRAFT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PROMPTCRAFT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic        string `envconfig:"PROMPTCRAFT_PUBSUB_LEDGER_TOPIC"`
	LedgerSubscription string `envconfig:"PROMPTCRAFT_PUBSUB_LEDGER_SUBSCRIPTION"`
}

// Enabled reports whether ledger events should also be fanned out to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.LedgerTopic) != ""
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PROMPTCRAFT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PROMPTCRAFT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PROMPTCRAFT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PROMPTCRAFT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type PixConfig struct {
	BaseURL           string        `envconfig:"PROMPTCRAFT_PIX_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken       string        `envconfig:"PROMPTCRAFT_PIX_ACCESS_TOKEN" required:"true"`
	WebhookSecret     string        `envconfig:"PROMPTCRAFT_PIX_WEBHOOK_SECRET" required:"true"`
	NotificationURL   string        `envconfig:"PROMPTCRAFT_PIX_NOTIFICATION_URL"`
	RequestTimeout    time.Duration `envconfig:"PROMPTCRAFT_PIX_REQUEST_TIMEOUT" default:"15s"`
	ExpirationMinutes int           `envconfig:"PROMPTCRAFT_PIX_EXPIRATION_MINUTES" default:"30"`

	// SignatureTolerance bounds webhook ts skew; 0 disables the check.
	SignatureTolerance time.Duration `envconfig:"PROMPTCRAFT_PIX_SIGNATURE_TOLERANCE" default:"10m"`
}

// Expiration returns how long a PIX charge stays payable.
func (p PixConfig) Expiration() time.Duration {
	if p.ExpirationMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.ExpirationMinutes) * time.Minute
}

type ReconcilerConfig struct {
	NotFoundRetries uint64        `envconfig:"PROMPTCRAFT_RECONCILER_NOT_FOUND_RETRIES" default:"4"`
	RetryBase       time.Duration `envconfig:"PROMPTCRAFT_RECONCILER_RETRY_BASE" default:"200ms"`
	RetryMax        time.Duration `envconfig:"PROMPTCRAFT_RECONCILER_RETRY_MAX" default:"3s"`
	StaleAfter      time.Duration `envconfig:"PROMPTCRAFT_RECONCILER_STALE_AFTER" default:"10m"`
	SweepLimit      int           `envconfig:"PROMPTCRAFT_RECONCILER_SWEEP_LIMIT" default:"200"`
}

type CreditsConfig struct {
	SignupCredits  int64 `envconfig:"PROMPTCRAFT_CREDITS_SIGNUP" default:"1"`
	ReferralBonus  int64 `envconfig:"PROMPTCRAFT_CREDITS_REFERRAL_BONUS" default:"5"`
	CharacterCost  int64 `envconfig:"PROMPTCRAFT_CREDITS_CHARACTER_COST" default:"1"`
	ReferralMaxUse int   `envconfig:"PROMPTCRAFT_CREDITS_REFERRAL_MAX_USES" default:"0"`
}

type SyncConfig struct {
	MinPollInterval time.Duration `envconfig:"PROMPTCRAFT_SYNC_MIN_POLL_INTERVAL" default:"1s"`
	MaxPollInterval time.Duration `envconfig:"PROMPTCRAFT_SYNC_MAX_POLL_INTERVAL" default:"10s"`
	MaxPollDuration time.Duration `envconfig:"PROMPTCRAFT_SYNC_MAX_POLL_DURATION" default:"2m"`
	StreamHeartbeat time.Duration `envconfig:"PROMPTCRAFT_SYNC_STREAM_HEARTBEAT" default:"25s"`
	SnapshotEntries int           `envconfig:"PROMPTCRAFT_SYNC_SNAPSHOT_ENTRIES" default:"20"`
}

// CronConfig sets the worker wake-up interval and the spacing of the slower
// jobs. The pending payment sweep runs on every wake-up.
type CronConfig struct {
	Interval       time.Duration `envconfig:"PROMPTCRAFT_CRON_INTERVAL" default:"5m"`
	AuditEvery     time.Duration `envconfig:"PROMPTCRAFT_CRON_AUDIT_EVERY" default:"1h"`
	RetentionEvery time.Duration `envconfig:"PROMPTCRAFT_CRON_RETENTION_EVERY" default:"24h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
