package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// StatusChange is the payload of a server.status event.
type StatusChange struct {
	ServerName    string              `json:"server_name"`
	From          models.ServerStatus `json:"from"`
	To            models.ServerStatus `json:"to"`
	LastHeartbeat *time.Time          `json:"last_heartbeat,omitempty"`
}

// HealthMonitor marks servers with stale heartbeats Offline and fires
// ServerOffline rules.
type HealthMonitor struct {
	servers   storage.ServerRepository
	alerts    *alerting.Service
	publisher alerting.Publisher
	threshold time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewHealthMonitor creates the loop. Servers silent for longer than
// threshold go Offline.
func NewHealthMonitor(servers storage.ServerRepository, alerts *alerting.Service, publisher alerting.Publisher, threshold time.Duration) *HealthMonitor {
	return &HealthMonitor{
		servers:   servers,
		alerts:    alerts,
		publisher: publisher,
		threshold: threshold,
		now:       time.Now,
		log:       logger.WithPrefix("server-health"),
	}
}

// Run performs one health pass.
func (m *HealthMonitor) Run(ctx context.Context) error {
	now := m.now().UTC()

	stale, err := m.servers.ListStale(ctx, now.Add(-m.threshold))
	if err != nil {
		return fmt.Errorf("list stale servers: %w", err)
	}
	for _, srv := range stale {
		ok, err := m.servers.SetStatus(ctx, srv.Name, models.ServerStatusOnline, models.ServerStatusOffline)
		if err != nil {
			m.log.Errorf("mark %s offline: %v", srv.Name, err)
			continue
		}
		if !ok {
			continue
		}
		metrics.ServersOfflineTotal.Inc()
		m.log.Warnf("server %s marked offline, last heartbeat %s ago", srv.Name, srv.HeartbeatAge(now).Round(time.Second))
		if m.publisher != nil {
			change := StatusChange{
				ServerName:    srv.Name,
				From:          models.ServerStatusOnline,
				To:            models.ServerStatusOffline,
				LastHeartbeat: srv.LastHeartbeat,
			}
			_ = m.publisher.Broadcast(ctx, notifier.NewScopedEvent(notifier.EventServerStatus, "", srv.Name, change))
		}
	}

	return m.fireRules(ctx, now)
}

func (m *HealthMonitor) fireRules(ctx context.Context, now time.Time) error {
	rules, err := m.alerts.RulesOfType(ctx, models.AlertTypeServerOffline)
	if err != nil || len(rules) == 0 {
		return err
	}
	offline, err := m.servers.ListByStatus(ctx, models.ServerStatusOffline)
	if err != nil {
		return fmt.Errorf("list offline servers: %w", err)
	}

	for _, srv := range offline {
		if !srv.IsActive {
			continue
		}
		for _, rule := range rules {
			d, ok := alerting.ServerOfflineDecision(rule, srv, now)
			if !ok {
				continue
			}
			if _, err := m.alerts.Fire(ctx, rule, d); err != nil {
				m.log.Errorf("trigger rule %q for %s: %v", rule.Name, srv.Name, err)
			}
		}
	}
	return nil
}
