package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Remote       RemoteConfig
	Redis        RedisConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	ChangeFeed   ChangeFeedConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	AMQP         AMQPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DB.Driver != DriverSQLite {
		return fmt.Errorf("%s must be %q: the local store is embedded", EnvDBDriver, DriverSQLite)
	}
	switch c.Remote.Driver {
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.Remote.DSN) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvRemoteDSN, EnvRemoteDriver, c.Remote.Driver)
		}
	case RemoteDriverMemory:
	default:
		return fmt.Errorf("unsupported %s %q", EnvRemoteDriver, c.Remote.Driver)
	}
	switch c.ChangeFeed.Driver {
	case ChangeFeedNone:
	case ChangeFeedPubSub:
		if c.GCP.ProjectID == "" || c.PubSub.ChangesTopic == "" || c.PubSub.ChangesSubscription == "" {
			return fmt.Errorf("%s, %s and %s are required for the pubsub change feed", EnvGCPProjectID, EnvPubSubChangesTopic, EnvPubSubChangesSub)
		}
	case ChangeFeedAMQP:
		if c.AMQP.URL == "" {
			return fmt.Errorf("%s is required for the amqp change feed", EnvAMQPURL)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvChangeFeedDriver, c.ChangeFeed.Driver)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"EDUFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"EDUFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"EDUFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EDUFLOW_LOG_WARN_STACK" default:"false"`
	LogFile      string `envconfig:"EDUFLOW_LOG_FILE"`

	CORSOrigins []string `envconfig:"EDUFLOW_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EDUFLOW_SERVICE_KIND" default:"sync-agent"`
}

// DBConfig describes the local embedded store.
type DBConfig struct {
	Driver string `envconfig:"EDUFLOW_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"EDUFLOW_DB_DSN" default:"file:eduflow.db?_busy_timeout=5000&_foreign_keys=on"`

	MaxOpenConns    int           `envconfig:"EDUFLOW_DB_MAX_OPEN_CONNS" default:"1"`
	MaxIdleConns    int           `envconfig:"EDUFLOW_DB_MAX_IDLE_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `envconfig:"EDUFLOW_DB_CONN_MAX_LIFETIME" default:"0"`
	ConnMaxIdleTime time.Duration `envconfig:"EDUFLOW_DB_CONN_MAX_IDLE_TIME" default:"0"`
}

// RemoteConfig describes the authoritative document store.
type RemoteConfig struct {
	Driver  string        `envconfig:"EDUFLOW_REMOTE_DRIVER" default:"postgres"`
	DSN     string        `envconfig:"EDUFLOW_REMOTE_DSN"`
	Timeout time.Duration `envconfig:"EDUFLOW_REMOTE_TIMEOUT" default:"15s"`

	MaxOpenConns int `envconfig:"EDUFLOW_REMOTE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns int `envconfig:"EDUFLOW_REMOTE_MAX_IDLE_CONNS" default:"2"`
}

// DBConfig adapts the remote settings to the shared gorm bootstrap.
func (r RemoteConfig) DBConfig() DBConfig {
	return DBConfig{
		Driver:       r.Driver,
		DSN:          r.DSN,
		MaxOpenConns: r.MaxOpenConns,
		MaxIdleConns: r.MaxIdleConns,
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"EDUFLOW_REDIS_URL"`
	Address      string        `envconfig:"EDUFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"EDUFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"EDUFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EDUFLOW_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"EDUFLOW_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"EDUFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EDUFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EDUFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type SyncConfig struct {
	OrganizationIDs  []string      `envconfig:"EDUFLOW_SYNC_ORG_IDS"`
	BatchSize        int           `envconfig:"EDUFLOW_SYNC_BATCH_SIZE" default:"50"`
	MaxAttempts      int           `envconfig:"EDUFLOW_SYNC_MAX_ATTEMPTS" default:"10"`
	Interval         time.Duration `envconfig:"EDUFLOW_SYNC_INTERVAL" default:"5m"`
	IdempotencyTTL   time.Duration `envconfig:"EDUFLOW_SYNC_IDEMPOTENCY_TTL" default:"168h"`
	DLQRetentionDays int           `envconfig:"EDUFLOW_SYNC_DLQ_RETENTION_DAYS" default:"30"`
	LockTTL          time.Duration `envconfig:"EDUFLOW_SYNC_LOCK_TTL" default:"10m"`
}

// Organizations returns the trimmed, non-empty organization ids.
func (s SyncConfig) Organizations() []string {
	out := make([]string, 0, len(s.OrganizationIDs))
	for _, id := range s.OrganizationIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type ConnectivityConfig struct {
	ProbeURL string        `envconfig:"EDUFLOW_CONNECTIVITY_PROBE_URL"`
	Interval time.Duration `envconfig:"EDUFLOW_CONNECTIVITY_INTERVAL" default:"10s"`
	Timeout  time.Duration `envconfig:"EDUFLOW_CONNECTIVITY_TIMEOUT" default:"3s"`
}

type ChangeFeedConfig struct {
	Driver string `envconfig:"EDUFLOW_CHANGEFEED_DRIVER" default:"none"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"EDUFLOW_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	ChangesTopic        string `envconfig:"EDUFLOW_PUBSUB_CHANGES_TOPIC"`
	ChangesSubscription string `envconfig:"EDUFLOW_PUBSUB_CHANGES_SUBSCRIPTION"`
	Endpoint            string `envconfig:"EDUFLOW_PUBSUB_ENDPOINT"`
}

type AMQPConfig struct {
	URL      string `envconfig:"EDUFLOW_AMQP_URL"`
	Exchange string `envconfig:"EDUFLOW_AMQP_EXCHANGE" default:"eduflow.changes"`
	Queue    string `envconfig:"EDUFLOW_AMQP_QUEUE"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EDUFLOW_AUTO_MIGRATE" default:"false"`
}
