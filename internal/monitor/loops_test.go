package monitor

import (
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

func TestResolveIntervals_Defaults(t *testing.T) {
	iv := ResolveIntervals(nil)

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"alert evaluation", iv.AlertEvaluation, 30 * time.Second},
		{"execution timeout", iv.ExecutionTimeout, time.Minute},
		{"default timeout", iv.DefaultTimeout, 0},
		{"server health", iv.ServerHealth, time.Minute},
		{"offline threshold", iv.OfflineThreshold, 5 * time.Minute},
		{"dashboard", iv.Dashboard, 30 * time.Second},
		{"log stats", iv.LogStats, time.Minute},
		{"job health", iv.JobHealth, 5 * time.Minute},
		{"maintenance", iv.Maintenance, time.Hour},
		{"log retention", iv.Retention.Logs, 30 * 24 * time.Hour},
		{"alert retention", iv.Retention.Alerts, 90 * 24 * time.Hour},
		{"execution retention", iv.Retention.Executions, 90 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if iv.JobHealthDelta != 10 {
		t.Errorf("job health delta = %v, want 10", iv.JobHealthDelta)
	}
}

func TestResolveIntervals_Overrides(t *testing.T) {
	iv := ResolveIntervals(config.Settings{
		"alertEvaluationIntervalSeconds": 2,
		"defaultExecutionTimeoutMinutes": "45",
		"serverOfflineThresholdMinutes":  10,
		"dashboardUpdateIntervalSeconds": "bogus",
		"jobHealthDeltaThreshold":        2.5,
		"logRetentionDays":               0,
		"alertRetentionDays":             -3,
	})

	if iv.AlertEvaluation != 5*time.Second {
		t.Errorf("alert evaluation = %v, want the 5s floor", iv.AlertEvaluation)
	}
	if iv.DefaultTimeout != 45*time.Minute {
		t.Errorf("default timeout = %v, want 45m", iv.DefaultTimeout)
	}
	if iv.OfflineThreshold != 10*time.Minute {
		t.Errorf("offline threshold = %v, want 10m", iv.OfflineThreshold)
	}
	if iv.Dashboard != 30*time.Second {
		t.Errorf("dashboard = %v, want default 30s", iv.Dashboard)
	}
	if iv.JobHealthDelta != 2.5 {
		t.Errorf("job health delta = %v, want 2.5", iv.JobHealthDelta)
	}
	if iv.Retention.Logs != 0 || iv.Retention.Alerts != 0 {
		t.Errorf("retention = %+v, want logs and alerts disabled", iv.Retention)
	}
}

func TestRunners(t *testing.T) {
	store := setupTestDB(t)
	svc := newService(store, nil)
	eng := alerting.NewEngine(store.Rules(), alerting.StateQuery{Logs: store.Logs(), Executions: store.Executions()}, svc)

	runners := Runners(Deps{
		Store:    store,
		Logs:     store.Logs(),
		Vacuumer: store,
		Alerts:   svc,
		Engine:   eng,
	}, ResolveIntervals(nil))

	want := []string{"alert-evaluation", "execution-timeout", "server-health", "dashboard", "log-stats", "job-health", "maintenance"}
	if len(runners) != len(want) {
		t.Fatalf("runners = %d, want %d", len(runners), len(want))
	}
	for i, r := range runners {
		if r.Name() != want[i] {
			t.Errorf("runner %d = %q, want %q", i, r.Name(), want[i])
		}
	}
	if runners[0].Interval() != 30*time.Second {
		t.Errorf("evaluation interval = %v", runners[0].Interval())
	}
	// Rules are first evaluated once startup settles, not a full interval later.
	if d := runners[0].FirstTickDelay(); d != 10*time.Second {
		t.Errorf("evaluation first tick after %v, want 10s", d)
	}
}
