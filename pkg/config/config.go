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
	DB           DBConfig
	Redis        RedisConfig
	Queue        QueueConfig
	Sync         SyncConfig
	Idempotency  IdempotencyConfig
	Payment      PaymentConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"PDVJGM_APP_ENV" required:"true"`
	Port         string `envconfig:"PDVJGM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PDVJGM_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PDVJGM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PDVJGM_DB_DSN"`
	Driver string `envconfig:"PDVJGM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PDVJGM_DB_HOST"`
	LegacyPort     int    `envconfig:"PDVJGM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PDVJGM_DB_USER"`
	LegacyPassword string `envconfig:"PDVJGM_DB_PASSWORD"`
	LegacyName     string `envconfig:"PDVJGM_DB_NAME"`
	LegacySSLMode  string `envconfig:"PDVJGM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PDVJGM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PDVJGM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PDVJGM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PDVJGM_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PDVJGM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PDVJGM_REDIS_ADDR"`
	Password     string        `envconfig:"PDVJGM_REDIS_PASSWORD"`
	DB           int           `envconfig:"PDVJGM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PDVJGM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PDVJGM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PDVJGM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PDVJGM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PDVJGM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// QueueConfig tunes the durable job queue and its worker loop.
type QueueConfig struct {
	MaxAttempts      int           `envconfig:"PDVJGM_QUEUE_MAX_ATTEMPTS" default:"5"`
	InitialBackoff   time.Duration `envconfig:"PDVJGM_QUEUE_INITIAL_BACKOFF" default:"2s"`
	MaxBackoff       time.Duration `envconfig:"PDVJGM_QUEUE_MAX_BACKOFF" default:"5m"`
	PollIntervalMS   int           `envconfig:"PDVJGM_QUEUE_POLL_MS" default:"500"`
	BatchSize        int           `envconfig:"PDVJGM_QUEUE_BATCH_SIZE" default:"20"`
	LeaseTimeout     time.Duration `envconfig:"PDVJGM_QUEUE_LEASE_TIMEOUT" default:"5m"`
	MaxManualRetries int           `envconfig:"PDVJGM_QUEUE_MAX_MANUAL_RETRIES" default:"3"`
}

// SyncConfig describes the upstream ERP feed.
type SyncConfig struct {
	FeedBaseURL  string        `envconfig:"PDVJGM_SYNC_FEED_BASE_URL"`
	FetchTimeout time.Duration `envconfig:"PDVJGM_SYNC_FETCH_TIMEOUT" default:"30s"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"PDVJGM_IDEMPOTENCY_TTL" default:"24h"`
}

type PaymentConfig struct {
	GatewayBaseURL string        `envconfig:"PDVJGM_PAYMENT_GATEWAY_BASE_URL"`
	AccessToken    string        `envconfig:"PDVJGM_PAYMENT_ACCESS_TOKEN"`
	Timeout        time.Duration `envconfig:"PDVJGM_PAYMENT_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PDVJGM_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PDVJGM_AUTO_MIGRATE" default:"false"`
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
