package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sync       SyncConfig       `yaml:"sync"`
	Network    NetworkConfig    `yaml:"network"`
	Remote     RemoteConfig     `yaml:"remote"`
	API        APIConfig        `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// SyncConfig tunes the sync engine and its backoff schedule.
type SyncConfig struct {
	ConcurrencyLimit  int           `yaml:"concurrency_limit"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
	Jitter            float64       `yaml:"jitter"`
	TransportTimeout  time.Duration `yaml:"transport_timeout"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	AutoSync          *bool         `yaml:"auto_sync"`
	ReconnectDebounce time.Duration `yaml:"reconnect_debounce"`
	Retention         time.Duration `yaml:"retention"`
	DeadLetterKey     string        `yaml:"dead_letter_key"`
}

// AutoSyncEnabled defaults to true when unset.
func (c SyncConfig) AutoSyncEnabled() bool {
	return c.AutoSync == nil || *c.AutoSync
}

type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.ConcurrencyLimit < 1 {
		return errors.New("sync.concurrency_limit must be positive")
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("sync.max_attempts must be positive")
	}
	if c.Sync.MaxDelay < c.Sync.BaseDelay {
		return fmt.Errorf("sync.max_delay (%s) is smaller than sync.base_delay (%s)", c.Sync.MaxDelay, c.Sync.BaseDelay)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return errors.New("sync.jitter must be within [0, 1]")
	}
	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth is enabled but no api_keys are configured")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "mindsync"
	}
	if c.Sync.ConcurrencyLimit == 0 {
		c.Sync.ConcurrencyLimit = 4
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Sync.BaseDelay == 0 {
		c.Sync.BaseDelay = time.Second
	}
	if c.Sync.MaxDelay == 0 {
		c.Sync.MaxDelay = 5 * time.Minute
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}
	if c.Sync.Jitter == 0 {
		c.Sync.Jitter = 0.2
	}
	if c.Sync.TransportTimeout == 0 {
		c.Sync.TransportTimeout = 15 * time.Second
	}
	if c.Sync.SyncInterval == 0 {
		c.Sync.SyncInterval = 30 * time.Second
	}
	if c.Sync.ReconnectDebounce == 0 {
		c.Sync.ReconnectDebounce = 500 * time.Millisecond
	}
	if c.Sync.DeadLetterKey == "" {
		c.Sync.DeadLetterKey = "mindsync:deadletter"
	}
	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = 5 * time.Second
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = 3 * time.Second
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = c.Sync.TransportTimeout
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 5
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}
