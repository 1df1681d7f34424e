package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SUBBOX"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv = "SUBBOX_APP_ENV"
	EnvPort   = "SUBBOX_APP_PORT"
	EnvDBDSN  = "SUBBOX_DB_DSN"
	EnvDBHost = "SUBBOX_DB_HOST"
	EnvDBUser = "SUBBOX_DB_USER"
	EnvDBName = "SUBBOX_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Billing      BillingConfig
	Square       SquareConfig
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
	Env          string `envconfig:"SUBBOX_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBBOX_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBBOX_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBBOX_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUBBOX_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SUBBOX_DB_DSN"`
	Driver string `envconfig:"SUBBOX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBBOX_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBBOX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBBOX_DB_USER"`
	LegacyPassword string `envconfig:"SUBBOX_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBBOX_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBBOX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBBOX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBBOX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBBOX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBBOX_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBBOX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBBOX_REDIS_ADDR"`
	Password     string        `envconfig:"SUBBOX_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBBOX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBBOX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBBOX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBBOX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBBOX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBBOX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// BillingConfig tunes the billing cycle engine and its worker.
type BillingConfig struct {
	BatchSize     int           `envconfig:"SUBBOX_BILLING_BATCH_SIZE" default:"250"`
	RunInterval   time.Duration `envconfig:"SUBBOX_BILLING_RUN_INTERVAL" default:"24h"`
	ChargeTimeout time.Duration `envconfig:"SUBBOX_BILLING_CHARGE_TIMEOUT" default:"10s"`
	LockTTL       time.Duration `envconfig:"SUBBOX_BILLING_LOCK_TTL" default:"30s"`
	Currency      string        `envconfig:"SUBBOX_BILLING_CURRENCY" default:"USD"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"SUBBOX_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"SUBBOX_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"SUBBOX_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SUBBOX_AUTO_MIGRATE" default:"false"`
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
