package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPAddress != ":8080" {
		t.Errorf("HTTPAddress = %q", cfg.Server.HTTPAddress)
	}
	if cfg.Database.Path != "./data/lognexus.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Settings == nil {
		t.Error("Settings is nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_address: ":9000"
  query_timeout: 5s
database:
  path: /var/lib/lognexus/db.sqlite
clickhouse:
  enabled: true
redis:
  enabled: true
  channel_prefix: "nexus:"
  node_id: node-a
log_buffer:
  flush_interval: 2s
notifications:
  slack:
    webhook_url: https://hooks.slack.com/services/T/B/X
  rate_limit:
    enabled: true
    max_per_window: 5
    window: 30s
rules_file: rules.yaml
rules_watch: true
settings:
  alertEvaluationIntervalSeconds: 15
  logRetentionDays: 7
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.HTTPAddress != ":9000" || cfg.Server.QueryTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.Path != "/var/lib/lognexus/db.sqlite" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if len(cfg.ClickHouse.Addresses) != 1 || cfg.ClickHouse.Database != "lognexus" {
		t.Errorf("clickhouse defaults not applied: %+v", cfg.ClickHouse)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.ChannelPrefix != "nexus:" || cfg.Redis.NodeID != "node-a" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.LogBuffer.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v", cfg.LogBuffer.FlushInterval)
	}
	if cfg.Notifications.Slack == nil || cfg.Notifications.Email != nil {
		t.Errorf("notifications = %+v", cfg.Notifications)
	}
	if rl := cfg.Notifications.RateLimit; rl == nil || rl.MaxPerWindow != 5 || rl.Window != 30*time.Second {
		t.Errorf("rate limit = %+v", rl)
	}
	if !cfg.RulesWatch || cfg.RulesFile != "rules.yaml" {
		t.Errorf("rules = %q watch=%v", cfg.RulesFile, cfg.RulesWatch)
	}
	if got := config.GetValue(cfg.Settings, "alertEvaluationIntervalSeconds", 30); got != 15 {
		t.Errorf("alertEvaluationIntervalSeconds = %d", got)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file loaded")
	}
	if _, err := LoadConfig(writeConfig(t, "server: [")); err == nil {
		t.Error("malformed YAML loaded")
	}
	_, err := LoadConfig(writeConfig(t, "logging:\n  level: loud\n"))
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("invalid level error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
		{"tls without key", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.CertFile = "cert.pem"
		}, "key_file"},
		{"negative rate limit", func(c *Config) { c.Server.IngestRateLimit = -1 }, "ingest_rate_limit"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }, "trusted_proxies"},
		{"negative batch", func(c *Config) { c.Server.MaxBatchSize = -1 }, "max_batch_size"},
		{"watch without file", func(c *Config) { c.RulesWatch = true }, "rules_file"},
		{"email without host", func(c *Config) {
			c.Notifications.Email = &notifier.EmailConfig{Port: 587, From: "a@example.com"}
		}, "notifications.email"},
		{"teams over http", func(c *Config) {
			c.Notifications.Teams = &notifier.TeamsConfig{WebhookURL: "http://example.com/hook"}
		}, "notifications.teams"},
		{"slack without url", func(c *Config) {
			c.Notifications.Slack = &notifier.SlackConfig{}
		}, "notifications.slack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewDispatcher(t *testing.T) {
	d, err := newDispatcher(NotificationsConfig{
		Email:   &notifier.EmailConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"},
		Teams:   &notifier.TeamsConfig{WebhookURL: "https://example.webhook.office.com/hook"},
		Webhook: &notifier.WebhookConfig{URL: "https://hooks.example.com/alerts"},
	})
	if err != nil {
		t.Fatalf("newDispatcher: %v", err)
	}
	defer d.Close()

	got := d.Channels()
	sort.Strings(got)
	want := []string{"email", "teams", "webhook"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("channels = %v, want %v", got, want)
	}
}

func TestNewDispatcher_Empty(t *testing.T) {
	d, err := newDispatcher(NotificationsConfig{})
	if err != nil {
		t.Fatalf("newDispatcher: %v", err)
	}
	defer d.Close()
	if n := len(d.Channels()); n != 0 {
		t.Errorf("channels = %d, want 0", n)
	}
}

func TestNodeID(t *testing.T) {
	if got := nodeID("fixed"); got != "fixed" {
		t.Errorf("nodeID(fixed) = %q", got)
	}
	a, b := nodeID(""), nodeID("")
	if a == "" || a == b {
		t.Errorf("generated node ids %q and %q should be distinct", a, b)
	}
}

func TestNewRedisClient_Disabled(t *testing.T) {
	if c := newRedisClient(RedisConfig{}); c != nil {
		t.Error("client created while disabled")
	}
	c := newRedisClient(RedisConfig{Enabled: true, RedisConfig: notifier.RedisConfig{Addr: "localhost:6379"}})
	if c == nil {
		t.Fatal("client not created")
	}
	c.Close()
}
