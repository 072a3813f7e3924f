package monitor

import (
	"time"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/scheduler"
	"github.com/good-yellow-bee/lognexus/internal/storage"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

const minEvaluationInterval = 5 * time.Second

// Deps are the collaborators shared by all loops.
type Deps struct {
	Store     storage.Storage
	Logs      storage.LogRepository
	Vacuumer  Vacuumer
	Alerts    *alerting.Service
	Engine    *alerting.Engine
	Publisher alerting.Publisher
}

// Intervals holds the resolved loop periods and thresholds.
type Intervals struct {
	AlertEvaluation  time.Duration
	ExecutionTimeout time.Duration
	DefaultTimeout   time.Duration
	ServerHealth     time.Duration
	OfflineThreshold time.Duration
	Dashboard        time.Duration
	LogStats         time.Duration
	JobHealth        time.Duration
	JobHealthDelta   float64
	Maintenance      time.Duration
	Retention        Retention
}

// ResolveIntervals reads the loop settings, applying defaults and the
// evaluation interval floor.
func ResolveIntervals(s config.Settings) Intervals {
	seconds := func(key string, def int) time.Duration {
		v := config.GetValue(s, key, def)
		if v <= 0 {
			v = def
		}
		return time.Duration(v) * time.Second
	}
	days := func(key string, def int) time.Duration {
		v := config.GetValue(s, key, def)
		if v < 0 {
			v = 0
		}
		return time.Duration(v) * 24 * time.Hour
	}

	iv := Intervals{
		AlertEvaluation:  seconds("alertEvaluationIntervalSeconds", 30),
		ExecutionTimeout: seconds("executionTimeoutCheckIntervalSeconds", 60),
		ServerHealth:     seconds("serverHealthCheckIntervalSeconds", 60),
		OfflineThreshold: seconds("serverOfflineThresholdMinutes", 5) * 60,
		Dashboard:        seconds("dashboardUpdateIntervalSeconds", 30),
		LogStats:         seconds("logStatsIntervalSeconds", 60),
		JobHealth:        seconds("jobHealthIntervalSeconds", 300),
		JobHealthDelta:   config.GetValue(s, "jobHealthDeltaThreshold", 10.0),
		Maintenance:      seconds("maintenanceIntervalMinutes", 60) * 60,
		Retention: Retention{
			Logs:       days("logRetentionDays", 30),
			Alerts:     days("alertRetentionDays", 90),
			Executions: days("executionRetentionDays", 90),
		},
	}
	if iv.AlertEvaluation < minEvaluationInterval {
		iv.AlertEvaluation = minEvaluationInterval
	}
	if m := config.GetValue(s, "defaultExecutionTimeoutMinutes", 0); m > 0 {
		iv.DefaultTimeout = time.Duration(m) * time.Minute
	}
	if iv.JobHealthDelta <= 0 {
		iv.JobHealthDelta = 10
	}
	return iv
}

// Runners builds one scheduler runner per loop. Every runner reports its
// ticks to the loop metrics.
func Runners(d Deps, iv Intervals) []*scheduler.Runner {
	timeouts := NewTimeoutMonitor(d.Store.Executions(), d.Store.Jobs(), d.Alerts, d.Publisher, iv.DefaultTimeout)
	health := NewHealthMonitor(d.Store.Servers(), d.Alerts, d.Publisher, iv.OfflineThreshold)
	dashboard := NewDashboard(d.Store.Servers(), d.Store.Executions(), d.Alerts, d.Publisher)
	jobHealth := NewJobHealthMonitor(d.Store.Jobs(), d.Store.Executions(), d.Publisher, iv.JobHealthDelta)
	stats := NewLogStats(d.Logs, d.Publisher, iv.LogStats)
	maintenance := NewMaintenance(d.Logs, d.Store.Instances(), d.Store.Executions(), d.Vacuumer, iv.Retention)

	runners := []*scheduler.Runner{
		scheduler.New(scheduler.Config{Name: "alert-evaluation", Interval: iv.AlertEvaluation, InitialDelay: 10 * time.Second, RunImmediately: true}, d.Engine.Tick),
		scheduler.New(scheduler.Config{Name: "execution-timeout", Interval: iv.ExecutionTimeout, InitialDelay: 15 * time.Second}, timeouts.Run),
		scheduler.New(scheduler.Config{Name: "server-health", Interval: iv.ServerHealth, InitialDelay: 15 * time.Second}, health.Run),
		scheduler.New(scheduler.Config{Name: "dashboard", Interval: iv.Dashboard, RunImmediately: true}, dashboard.Run),
		scheduler.New(scheduler.Config{Name: "log-stats", Interval: iv.LogStats}, stats.Run),
		scheduler.New(scheduler.Config{Name: "job-health", Interval: iv.JobHealth, InitialDelay: 30 * time.Second, RunImmediately: true}, jobHealth.Run),
		scheduler.New(scheduler.Config{Name: "maintenance", Interval: iv.Maintenance, InitialDelay: time.Minute, RunImmediately: true}, maintenance.Run),
	}
	for _, r := range runners {
		r.Observe(metrics.ObserveTick)
	}
	return runners
}
