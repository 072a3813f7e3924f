// Package main provides the LogNexus agent CLI.
package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/agent"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

// Config represents the agent configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Agent   AgentConfig    `yaml:"agent"`
	Sources []SourceConfig `yaml:"sources"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains server connection settings.
type ServerConfig struct {
	URL     string        `yaml:"url"`     // e.g. http://lognexus:8080
	Timeout time.Duration `yaml:"timeout"` // per request (default: 30s)
	Retries int           `yaml:"retries"` // per request (default: 3)
}

// AgentConfig contains agent settings.
type AgentConfig struct {
	ServerName        string        `yaml:"server_name"`        // defaults to the hostname
	DisplayName       string        `yaml:"display_name"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // default: 30s
	BatchSize         int           `yaml:"batch_size"`         // entries per request (default: 100)
	FlushInterval     time.Duration `yaml:"flush_interval"`     // batch flush interval (default: 1s)
	MaxBuffered       int           `yaml:"max_buffered"`       // unsent entries kept in memory (default: 10000)
}

// SourceConfig defines a log file to ship.
type SourceConfig struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Level       string `yaml:"level"`        // level for lines without one (default: Information)
	DetectLevel *bool  `yaml:"detect_level"` // look for a level token (default: true)
	JobID       string `yaml:"job_id"`
	Category    string `yaml:"category"`
	FromStart   bool   `yaml:"from_start"`
}

// LoggingConfig configures the agent's own logger.
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

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Agent.ServerName == "" {
		c.Agent.ServerName = Hostname()
	}
	if c.Agent.HeartbeatInterval <= 0 {
		c.Agent.HeartbeatInterval = 30 * time.Second
	}
	if c.Agent.BatchSize <= 0 {
		c.Agent.BatchSize = 100
	}
	if c.Agent.FlushInterval <= 0 {
		c.Agent.FlushInterval = time.Second
	}
	if c.Agent.MaxBuffered <= 0 {
		c.Agent.MaxBuffered = 10000
	}
	for i := range c.Sources {
		if c.Sources[i].Level == "" {
			c.Sources[i].Level = string(models.LevelInformation)
		}
		if c.Sources[i].DetectLevel == nil {
			detect := true
			c.Sources[i].DetectLevel = &detect
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url must be an http(s) url, got %q", c.Server.URL)
	}
	if c.Agent.ServerName == "" {
		return fmt.Errorf("agent.server_name is required")
	}
	if c.Agent.MaxBuffered < c.Agent.BatchSize {
		return fmt.Errorf("agent.max_buffered (%d) must be at least agent.batch_size (%d)",
			c.Agent.MaxBuffered, c.Agent.BatchSize)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	names := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if src.Path == "" {
			return fmt.Errorf("sources[%d].path is required", i)
		}
		if names[src.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, src.Name)
		}
		names[src.Name] = true
		if _, ok := models.ParseLogLevel(src.Level); !ok {
			return fmt.Errorf("sources[%d].level %q is invalid", i, src.Level)
		}
	}
	return nil
}

// ClientConfig returns the HTTP client settings.
func (c *Config) ClientConfig() agent.ClientConfig {
	return agent.ClientConfig{
		BaseURL: c.Server.URL,
		Timeout: c.Server.Timeout,
		Retries: c.Server.Retries,
	}
}

// AgentConfig converts the file configuration to agent.Config.
func (c *Config) AgentConfig() agent.Config {
	sources := make([]agent.SourceConfig, len(c.Sources))
	for i, src := range c.Sources {
		level, _ := models.ParseLogLevel(src.Level)
		sources[i] = agent.SourceConfig{
			Name:        src.Name,
			Path:        src.Path,
			Level:       level,
			DetectLevel: src.DetectLevel != nil && *src.DetectLevel,
			JobID:       src.JobID,
			Category:    src.Category,
			FromStart:   src.FromStart,
		}
	}
	return agent.Config{
		ServerName:    c.Agent.ServerName,
		DisplayName:   c.Agent.DisplayName,
		BatchSize:     c.Agent.BatchSize,
		FlushInterval: c.Agent.FlushInterval,
		MaxBuffered:   c.Agent.MaxBuffered,
		Heartbeat:     agent.HeartbeatConfig{Interval: c.Agent.HeartbeatInterval},
		Sources:       sources,
	}
}

// Hostname returns the system hostname.
func Hostname() string {
	hostname, _ := os.Hostname()
	return hostname
}
