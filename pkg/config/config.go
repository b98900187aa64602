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
	Backend      BackendConfig
	Sync         SyncConfig
	Retry        RetryConfig
	Delivery     DeliveryConfig
	Reconcile    ReconcileConfig
	Retention    RetentionConfig
	Cron         CronConfig
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
	Env          string `envconfig:"CRMBRIDGE_APP_ENV" required:"true"`
	Port         string `envconfig:"CRMBRIDGE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CRMBRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CRMBRIDGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CRMBRIDGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CRMBRIDGE_DB_DSN"`
	Driver string `envconfig:"CRMBRIDGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CRMBRIDGE_DB_HOST"`
	LegacyPort     int    `envconfig:"CRMBRIDGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CRMBRIDGE_DB_USER"`
	LegacyPassword string `envconfig:"CRMBRIDGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CRMBRIDGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CRMBRIDGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CRMBRIDGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CRMBRIDGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CRMBRIDGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CRMBRIDGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CRMBRIDGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CRMBRIDGE_REDIS_ADDR"`
	Password     string        `envconfig:"CRMBRIDGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CRMBRIDGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CRMBRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CRMBRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CRMBRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CRMBRIDGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CRMBRIDGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// BackendConfig describes the CRM-facing HTTP endpoint events are delivered to.
type BackendConfig struct {
	BaseURL            string        `envconfig:"CRMBRIDGE_BACKEND_BASE_URL" required:"true"`
	WebhookPath        string        `envconfig:"CRMBRIDGE_BACKEND_WEBHOOK_PATH" default:"/api/v1/events"`
	Token              string        `envconfig:"CRMBRIDGE_BACKEND_TOKEN"`
	InsecureSkipVerify bool          `envconfig:"CRMBRIDGE_BACKEND_INSECURE_SKIP_VERIFY" default:"false"`
	Timeout            time.Duration `envconfig:"CRMBRIDGE_BACKEND_TIMEOUT" default:"30s"`
}

// Endpoint joins the base URL and webhook path.
func (b BackendConfig) Endpoint() string {
	return strings.TrimRight(b.BaseURL, "/") + "/" + strings.TrimLeft(b.WebhookPath, "/")
}

// SyncConfig gates event emission per category. A disabled category is a
// no-op exit for its observers, not an error.
type SyncConfig struct {
	Users       bool `envconfig:"CRMBRIDGE_SYNC_USERS" default:"true"`
	Enrollments bool `envconfig:"CRMBRIDGE_SYNC_ENROLLMENTS" default:"true"`
	Grades      bool `envconfig:"CRMBRIDGE_SYNC_GRADES" default:"true"`
}

// RetryConfig governs the durable, long-horizon retry cycle of the event store.
type RetryConfig struct {
	MaxRetries   int           `envconfig:"CRMBRIDGE_RETRY_MAX_RETRIES" default:"10"`
	BaseDelay    time.Duration `envconfig:"CRMBRIDGE_RETRY_BASE_DELAY" default:"60s"`
	MaxDelay     time.Duration `envconfig:"CRMBRIDGE_RETRY_MAX_DELAY" default:"1h"`
	BatchSize    int           `envconfig:"CRMBRIDGE_RETRY_BATCH_SIZE" default:"100"`
	PollInterval time.Duration `envconfig:"CRMBRIDGE_RETRY_POLL_INTERVAL" default:"30s"`
}

// DeliveryConfig governs the short-lived in-call retry of a single HTTP send.
type DeliveryConfig struct {
	Attempts   int           `envconfig:"CRMBRIDGE_DELIVERY_ATTEMPTS" default:"3"`
	RetryDelay time.Duration `envconfig:"CRMBRIDGE_DELIVERY_RETRY_DELAY" default:"2s"`
}

type ReconcileConfig struct {
	Enabled      bool   `envconfig:"CRMBRIDGE_RECONCILE_ENABLED" default:"true"`
	ReferBandMax string `envconfig:"CRMBRIDGE_RECONCILE_REFER_BAND_MAX" default:"2"`
}

type RetentionConfig struct {
	SentRetentionDays int `envconfig:"CRMBRIDGE_RETENTION_SENT_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CRMBRIDGE_CRON_INTERVAL" default:"24h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CRMBRIDGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CRMBRIDGE_AUTO_MIGRATE" default:"false"`
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
