package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Session storage backends.
const (
	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:"127.0.0.1:8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`

	SessionBackend string `envconfig:"SESSION_BACKEND" default:"file"`
	SessionDir     string `envconfig:"SESSION_DIR" default:".wayne"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`

	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"10m"`

	SyncInterval    time.Duration `envconfig:"SYNC_INTERVAL" default:"30s"`
	SyncAutoRefresh bool          `envconfig:"SYNC_AUTO_REFRESH" default:"true"`

	NotifyDuration time.Duration `envconfig:"NOTIFY_DURATION" default:"5s"`
	NotifyMax      int           `envconfig:"NOTIFY_MAX" default:"100"`

	ThreatCapacity int `envconfig:"THREAT_CAPACITY" default:"1000"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	BackupCron         string `envconfig:"BACKUP_CRON"`
	SecurityReportCron string `envconfig:"SECURITY_REPORT_CRON"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	switch cfg.SessionBackend {
	case SessionBackendFile, SessionBackendRedis:
	default:
		return nil, fmt.Errorf("app: unsupported SESSION_BACKEND %q", cfg.SessionBackend)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("app: SYNC_INTERVAL must be positive")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c != nil && (c.SessionBackend == SessionBackendRedis || c.BackupCron != "" || c.SecurityReportCron != "")
}
