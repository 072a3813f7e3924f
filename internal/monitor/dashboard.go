package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Snapshot is the dashboard.snapshot payload.
type Snapshot struct {
	GeneratedAt       time.Time                     `json:"generated_at"`
	Servers           map[models.ServerStatus]int64 `json:"servers"`
	RunningExecutions int                           `json:"running_executions"`
	Alerts            *models.AlertSummary          `json:"alerts"`
}

// Dashboard publishes fleet snapshots to the dashboard group.
type Dashboard struct {
	servers    storage.ServerRepository
	executions storage.ExecutionRepository
	alerts     *alerting.Service
	publisher  alerting.Publisher
	now        func() time.Time
}

// NewDashboard creates the loop.
func NewDashboard(servers storage.ServerRepository, executions storage.ExecutionRepository, alerts *alerting.Service, publisher alerting.Publisher) *Dashboard {
	return &Dashboard{
		servers:    servers,
		executions: executions,
		alerts:     alerts,
		publisher:  publisher,
		now:        time.Now,
	}
}

// Snapshot collects the current fleet state and refreshes the gauges.
func (d *Dashboard) Snapshot(ctx context.Context) (*Snapshot, error) {
	counts, err := d.servers.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("server status counts: %w", err)
	}
	running, err := d.executions.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running executions: %w", err)
	}
	summary, err := d.alerts.Summary(ctx)
	if err != nil {
		return nil, err
	}

	for _, st := range []models.ServerStatus{
		models.ServerStatusUnknown, models.ServerStatusOnline, models.ServerStatusOffline,
		models.ServerStatusMaintenance, models.ServerStatusError,
	} {
		metrics.ServersByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	metrics.RunningExecutions.Set(float64(len(running)))

	return &Snapshot{
		GeneratedAt:       d.now().UTC(),
		Servers:           counts,
		RunningExecutions: len(running),
		Alerts:            summary,
	}, nil
}

// Run publishes one snapshot.
func (d *Dashboard) Run(ctx context.Context) error {
	snap, err := d.Snapshot(ctx)
	if err != nil {
		return err
	}
	if d.publisher != nil {
		_ = d.publisher.Broadcast(ctx, notifier.NewDashboardEvent(notifier.EventDashboard, snap))
	}
	return nil
}
