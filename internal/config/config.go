// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the feed cache service.
// Environment variables are automatically parsed from the TODAYFEED_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8087"`

	// Durable store
	SQLitePath string `envconfig:"SQLITE_PATH" default:""`

	// Remote endpoints: interaction delivery and content fetch
	SyncEndpoint  string `envconfig:"SYNC_ENDPOINT" default:""`
	FetchEndpoint string `envconfig:"FETCH_ENDPOINT" default:""`

	// Refresh scheduling (preferred local time of day)
	RefreshHour   int `envconfig:"REFRESH_HOUR" default:"3"`
	RefreshMinute int `envconfig:"REFRESH_MINUTE" default:"0"`

	// Content retention
	HistoryLimit  int   `envconfig:"HISTORY_LIMIT" default:"7"`
	MaxCacheBytes int64 `envconfig:"MAX_CACHE_BYTES" default:"3145728"`
	MaxEntryAge   int   `envconfig:"MAX_ENTRY_AGE_DAYS" default:"14"`

	// Offline queue
	MaxDeliveryAttempts int           `envconfig:"MAX_DELIVERY_ATTEMPTS" default:"5"`
	DeliveryTimeout     time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"10s"`

	// Background cadences
	MaintenanceInterval time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"6h"`
	ProbeInterval       time.Duration `envconfig:"PROBE_INTERVAL" default:"30s"`
	ZoneCheckInterval   time.Duration `envconfig:"ZONE_CHECK_INTERVAL" default:"1m"`

	// ForceRefresh idempotency window
	RefreshDebounce time.Duration `envconfig:"REFRESH_DEBOUNCE" default:"5s"`

	// Skew tolerance for future-dated content
	ContentDateSkew time.Duration `envconfig:"CONTENT_DATE_SKEW" default:"15m"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("TODAYFEED", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveDefaults validates ranges and fills derived defaults.
func (c *Config) ResolveDefaults() error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("unsupported ENVIRONMENT: %s", c.Environment)
	}
	if c.RefreshHour < 0 || c.RefreshHour > 23 {
		return fmt.Errorf("REFRESH_HOUR out of range: %d", c.RefreshHour)
	}
	if c.RefreshMinute < 0 || c.RefreshMinute > 59 {
		return fmt.Errorf("REFRESH_MINUTE out of range: %d", c.RefreshMinute)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive: %d", c.HistoryLimit)
	}
	if c.MaxDeliveryAttempts <= 0 {
		return fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be positive: %d", c.MaxDeliveryAttempts)
	}
	if c.SQLitePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve SQLITE_PATH: %w", err)
		}
		c.SQLitePath = filepath.Join(home, ".todayfeed", "cache.db")
	}
	return nil
}

// IsTesting reports whether the service runs under the testing environment,
// which selects the near-no-op warming strategy.
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }
