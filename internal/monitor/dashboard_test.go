package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
)

func TestDashboard_Run(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	now := time.Now().UTC()

	heartbeat(t, store, "web-1", now)
	heartbeat(t, store, "web-2", now)
	heartbeat(t, store, "web-3", now)
	if _, err := store.Servers().SetStatus(ctx, "web-3", models.ServerStatusOnline, models.ServerStatusOffline); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	registerJob(t, store, "import-01", 0, true)
	startExecution(t, store, "import-01", now.Add(-time.Minute))

	d := NewDashboard(store.Servers(), store.Executions(), newService(store, pub), pub)
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := pub.ofType(notifier.EventDashboard)
	if len(events) != 1 {
		t.Fatalf("dashboard events = %d, want 1", len(events))
	}
	if groups := events[0].Groups(); len(groups) != 1 || groups[0] != notifier.GroupDashboard {
		t.Errorf("groups = %v, want [dashboard]", groups)
	}
	snap, ok := events[0].Data.(*Snapshot)
	if !ok {
		t.Fatalf("data type = %T", events[0].Data)
	}
	if snap.Servers[models.ServerStatusOnline] != 2 || snap.Servers[models.ServerStatusOffline] != 1 {
		t.Errorf("servers = %v", snap.Servers)
	}
	if snap.RunningExecutions != 1 {
		t.Errorf("running = %d, want 1", snap.RunningExecutions)
	}
	if snap.Alerts == nil || snap.Alerts.Total != 0 {
		t.Errorf("alerts = %+v", snap.Alerts)
	}

	if got := testutil.ToFloat64(metrics.ServersByStatus.WithLabelValues("Online")); got != 2 {
		t.Errorf("online gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.RunningExecutions); got != 1 {
		t.Errorf("running gauge = %v, want 1", got)
	}
}
