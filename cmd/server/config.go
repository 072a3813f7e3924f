// Package main provides the LogNexus server CLI.
package main

import (
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/api/middleware"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	LogBuffer     LogBufferConfig     `yaml:"log_buffer"`
	Redis         RedisConfig         `yaml:"redis"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Stream        StreamConfig        `yaml:"stream"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
	RulesFile     string              `yaml:"rules_file"`  // YAML alert rule definitions (optional)
	RulesWatch    bool                `yaml:"rules_watch"` // re-sync rules_file on change
	Settings      config.Settings     `yaml:"settings"`    // loop intervals and retention
	Verbose       bool                `yaml:"-"`           // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"http_address"`      // HTTP listen address (default: :8080)
	TLS             TLSConfig     `yaml:"tls"`               // TLS configuration
	QueryTimeout    time.Duration `yaml:"query_timeout"`     // log query timeout (default: 10s)
	IngestRateLimit int           `yaml:"ingest_rate_limit"` // ingest requests per minute per agent (default: 600)
	TrustedProxies  []string      `yaml:"trusted_proxies"`   // CIDRs allowed to set X-Forwarded-For
	MaxBatchSize    int           `yaml:"max_batch_size"`    // max log entries per ingest request (default: 1000)
}

// TLSConfig contains TLS settings for the HTTP API.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: ./data/lognexus.db
}

// ClickHouseConfig switches log storage to ClickHouse when enabled.
type ClickHouseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addresses     []string      `yaml:"addresses"`
	Database      string        `yaml:"database"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	Compression   bool          `yaml:"compression"`
	RetentionDays int           `yaml:"retention_days"`
}

// LogBufferConfig controls batched log inserts.
type LogBufferConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxSize       int           `yaml:"max_size"`
}

// RedisConfig enables cross-instance fan-out when enabled.
type RedisConfig struct {
	notifier.RedisConfig `yaml:",inline"`

	Enabled bool   `yaml:"enabled"`
	NodeID  string `yaml:"node_id"` // defaults to the hostname
}

// NotificationsConfig configures rule delivery channels. A nil channel is
// not registered.
type NotificationsConfig struct {
	Email     *notifier.EmailConfig     `yaml:"email"`
	Slack     *notifier.SlackConfig     `yaml:"slack"`
	Teams     *notifier.TeamsConfig     `yaml:"teams"`
	Webhook   *notifier.WebhookConfig   `yaml:"webhook"`
	RateLimit *notifier.RateLimitConfig `yaml:"rate_limit"`
}

// StreamConfig tunes the SSE and websocket endpoints.
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // default: 15s
	PingInterval      time.Duration `yaml:"ping_interval"`      // default: 30s
	MaxDuration       time.Duration `yaml:"max_duration"`       // 0 = unlimited
	Buffer            int           `yaml:"buffer"`
}

// MetricsConfig enables a standalone metrics listener. /metrics is always
// served by the API as well.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default: :9090
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
	File  string `yaml:"file"`
}

// LoadConfig reads the YAML file at path, see config.LoadYAML, then applies
// defaults and validates.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := config.LoadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/lognexus.db"
	}
	if c.ClickHouse.Enabled {
		if len(c.ClickHouse.Addresses) == 0 {
			c.ClickHouse.Addresses = []string{"localhost:9000"}
		}
		if c.ClickHouse.Database == "" {
			c.ClickHouse.Database = "lognexus"
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Settings == nil {
		c.Settings = config.Settings{}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Server.IngestRateLimit < 0 {
		return fmt.Errorf("server.ingest_rate_limit must not be negative")
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	if c.Server.MaxBatchSize < 0 {
		return fmt.Errorf("server.max_batch_size must not be negative")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.RetentionDays < 0 {
		return fmt.Errorf("clickhouse.retention_days must not be negative")
	}
	if c.RulesWatch && c.RulesFile == "" {
		return fmt.Errorf("rules_watch requires rules_file")
	}

	n := c.Notifications
	if n.Email != nil {
		if err := n.Email.Validate(); err != nil {
			return fmt.Errorf("notifications.email: %w", err)
		}
	}
	if n.Slack != nil {
		if err := n.Slack.Validate(); err != nil {
			return fmt.Errorf("notifications.slack: %w", err)
		}
	}
	if n.Teams != nil {
		if err := n.Teams.Validate(); err != nil {
			return fmt.Errorf("notifications.teams: %w", err)
		}
	}
	if n.Webhook != nil {
		if err := n.Webhook.Validate(); err != nil {
			return fmt.Errorf("notifications.webhook: %w", err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is invalid", c.Logging.Level)
	}
	return nil
}
