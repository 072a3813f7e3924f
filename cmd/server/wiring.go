package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// openLogStorage returns the repository logs are written to and queried
// from. With ClickHouse disabled the SQLite store serves logs as well and
// the returned ClickHouse storage is nil.
func openLogStorage(ctx context.Context, cfg *Config, store *storage.SQLiteStorage) (storage.LogRepository, *storage.ClickHouseStorage, error) {
	if !cfg.ClickHouse.Enabled {
		return store.Logs(), nil, nil
	}

	ch := storage.NewClickHouseStorage(storage.ClickHouseConfig{
		Addresses:     cfg.ClickHouse.Addresses,
		Database:      cfg.ClickHouse.Database,
		Username:      cfg.ClickHouse.Username,
		Password:      cfg.ClickHouse.Password,
		MaxOpenConns:  cfg.ClickHouse.MaxOpenConns,
		DialTimeout:   cfg.ClickHouse.DialTimeout,
		Compression:   cfg.ClickHouse.Compression,
		RetentionDays: cfg.ClickHouse.RetentionDays,
	})
	if err := ch.Open(ctx); err != nil {
		return nil, nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := ch.Migrate(ctx); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}
	logger.Infof("log storage: clickhouse %v/%s", cfg.ClickHouse.Addresses, cfg.ClickHouse.Database)
	return ch.Logs(), ch, nil
}

// newDispatcher registers every configured delivery channel.
func newDispatcher(cfg NotificationsConfig) (*notifier.Dispatcher, error) {
	limit := notifier.DefaultRateLimitConfig()
	if cfg.RateLimit != nil {
		limit = *cfg.RateLimit
	}
	d := notifier.NewDispatcherWithRateLimit(limit)

	if cfg.Email != nil {
		n, err := notifier.NewEmailNotifier(*cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("create email notifier: %w", err)
		}
		d.Register(n)
	}
	if cfg.Slack != nil {
		n, err := notifier.NewSlackNotifier(*cfg.Slack)
		if err != nil {
			return nil, fmt.Errorf("create slack notifier: %w", err)
		}
		d.Register(n)
	}
	if cfg.Teams != nil {
		n, err := notifier.NewTeamsNotifier(*cfg.Teams)
		if err != nil {
			return nil, fmt.Errorf("create teams notifier: %w", err)
		}
		d.Register(n)
	}
	if cfg.Webhook != nil {
		n, err := notifier.NewWebhookNotifier(*cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("create webhook notifier: %w", err)
		}
		d.Register(n)
	}

	if channels := d.Channels(); len(channels) > 0 {
		logger.Infof("notification channels: %v", channels)
	}
	return d, nil
}

// newRedisClient returns nil when cross-instance fan-out is disabled.
func newRedisClient(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return notifier.NewRedisClient(cfg.RedisConfig)
}

// nodeID identifies this instance on the Redis channels.
func nodeID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "lognexus"
	}
	return host + "-" + uuid.New().String()[:8]
}
