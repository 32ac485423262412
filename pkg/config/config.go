package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CERTISTAGE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "CERTISTAGE_DB_DSN"
	EnvDBHost = "CERTISTAGE_DB_HOST"
	EnvDBUser = "CERTISTAGE_DB_USER"
	EnvDBName = "CERTISTAGE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Gateway       GatewayConfig
	SyncRateLimit SyncRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Invoice       InvoiceConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CERTISTAGE_APP_ENV" required:"true"`
	Port         string `envconfig:"CERTISTAGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CERTISTAGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CERTISTAGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CERTISTAGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CERTISTAGE_DB_DSN"`
	Driver string `envconfig:"CERTISTAGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CERTISTAGE_DB_HOST"`
	LegacyPort     int    `envconfig:"CERTISTAGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CERTISTAGE_DB_USER"`
	LegacyPassword string `envconfig:"CERTISTAGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CERTISTAGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CERTISTAGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CERTISTAGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CERTISTAGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CERTISTAGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CERTISTAGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CERTISTAGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CERTISTAGE_REDIS_ADDR"`
	Password     string        `envconfig:"CERTISTAGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CERTISTAGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CERTISTAGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CERTISTAGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CERTISTAGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CERTISTAGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CERTISTAGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"CERTISTAGE_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"CERTISTAGE_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"CERTISTAGE_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"CERTISTAGE_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

// GatewayConfig carries the payment gateway credentials. The key id is
// public (handed to the checkout widget); the key secret and webhook secret
// never leave the server. Values here act as the environment fallback for
// the settings store.
type GatewayConfig struct {
	BaseURL       string        `envconfig:"CERTISTAGE_GATEWAY_BASE_URL" default:"https://api.paystage.in/v1"`
	KeyID         string        `envconfig:"CERTISTAGE_GATEWAY_KEY_ID"`
	KeySecret     string        `envconfig:"CERTISTAGE_GATEWAY_KEY_SECRET"`
	WebhookSecret string        `envconfig:"CERTISTAGE_GATEWAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"CERTISTAGE_GATEWAY_TIMEOUT" default:"15s"`
}

type SyncRateLimitConfig struct {
	Window time.Duration `envconfig:"CERTISTAGE_SYNC_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"CERTISTAGE_SYNC_RATE_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CERTISTAGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CERTISTAGE_AUTO_MIGRATE" default:"false"`
}

type InvoiceConfig struct {
	Prefix        string `envconfig:"CERTISTAGE_INVOICE_PREFIX" default:"CS"`
	GatewayFeeBPS int    `envconfig:"CERTISTAGE_INVOICE_GATEWAY_FEE_BPS" default:"236"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CERTISTAGE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CERTISTAGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CERTISTAGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"CERTISTAGE_PUBSUB_BILLING_TOPIC" default:"cs-billing-events"`
	BillingSubscription string `envconfig:"CERTISTAGE_PUBSUB_BILLING_SUBSCRIPTION"`
	NotificationTopic   string `envconfig:"CERTISTAGE_PUBSUB_NOTIFICATION_TOPIC" default:"cs-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CERTISTAGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CERTISTAGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CERTISTAGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
