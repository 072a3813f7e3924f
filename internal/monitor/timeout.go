// Package monitor holds the periodic companion loops that watch job
// executions, server heartbeats and log volume, publish dashboard data and
// apply retention.
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

// TimeoutMonitor marks running executions that exceeded their job timeout
// as TimedOut and fires DurationExceeded rules.
type TimeoutMonitor struct {
	executions     storage.ExecutionRepository
	jobs           storage.JobRepository
	alerts         *alerting.Service
	publisher      alerting.Publisher
	defaultTimeout time.Duration
	now            func() time.Time
	log            *logger.Logger
}

// NewTimeoutMonitor creates the loop. defaultTimeout applies to jobs
// without their own timeout; zero disables it.
func NewTimeoutMonitor(executions storage.ExecutionRepository, jobs storage.JobRepository, alerts *alerting.Service, publisher alerting.Publisher, defaultTimeout time.Duration) *TimeoutMonitor {
	return &TimeoutMonitor{
		executions:     executions,
		jobs:           jobs,
		alerts:         alerts,
		publisher:      publisher,
		defaultTimeout: defaultTimeout,
		now:            time.Now,
		log:            logger.WithPrefix("timeouts"),
	}
}

// Run checks every running execution once.
func (m *TimeoutMonitor) Run(ctx context.Context) error {
	running, err := m.executions.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running executions: %w", err)
	}
	if len(running) == 0 {
		return nil
	}

	// Timeouts are marked even when the rules cannot be read.
	rules, err := m.alerts.RulesOfType(ctx, models.AlertTypeDurationExceeded)
	if err != nil {
		m.log.Errorf("duration rules unavailable this tick: %v", err)
		rules = nil
	}

	now := m.now().UTC().Truncate(time.Millisecond)
	jobs := make(map[string]*models.Job)
	for _, exec := range running {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		timeout, err := m.timeoutFor(ctx, jobs, exec.JobID)
		if err != nil {
			m.log.Warnf("execution %s: %v", exec.ID, err)
		}
		if timeout > 0 && exec.Elapsed(now) > timeout {
			if err := m.expire(ctx, exec, timeout, now); err != nil {
				m.log.Errorf("time out execution %s: %v", exec.ID, err)
				continue
			}
		}
		m.fire(ctx, rules, exec, now)
	}
	return nil
}

// timeoutFor returns the effective timeout of a job, caching lookups for
// the current tick.
func (m *TimeoutMonitor) timeoutFor(ctx context.Context, cache map[string]*models.Job, jobID string) (time.Duration, error) {
	job, ok := cache[jobID]
	if !ok {
		var err error
		job, err = m.jobs.GetByID(ctx, jobID)
		if err != nil {
			return m.defaultTimeout, fmt.Errorf("get job %s: %w", jobID, err)
		}
		cache[jobID] = job
	}
	if job != nil && job.TimeoutMinutes > 0 {
		return time.Duration(job.TimeoutMinutes) * time.Minute, nil
	}
	return m.defaultTimeout, nil
}

func (m *TimeoutMonitor) expire(ctx context.Context, exec *models.Execution, timeout time.Duration, now time.Time) error {
	msg := fmt.Sprintf("execution exceeded timeout of %d minutes", int(timeout.Minutes()))
	done := *exec
	if !done.Complete(models.ExecutionTimedOut, msg, "", now) {
		return nil
	}
	ok, err := m.executions.Complete(ctx, &done)
	if err != nil {
		return err
	}
	if !ok {
		// Completed by its agent in the meantime.
		return nil
	}
	*exec = done

	metrics.ExecutionsTimedOutTotal.Inc()
	m.log.Warnf("execution %s of job %s on %s timed out after %s", exec.ID, exec.JobID, exec.ServerName, exec.Elapsed(now).Round(time.Second))
	if m.publisher != nil {
		_ = m.publisher.Broadcast(ctx, notifier.NewScopedEvent(notifier.EventExecutionTimeout, exec.JobID, exec.ServerName, exec))
	}
	return nil
}

func (m *TimeoutMonitor) fire(ctx context.Context, rules []*models.AlertRule, exec *models.Execution, now time.Time) {
	for _, rule := range rules {
		d, ok := alerting.DurationExceededDecision(rule, exec, now)
		if !ok {
			continue
		}
		if _, err := m.alerts.Fire(ctx, rule, d); err != nil {
			m.log.Errorf("trigger rule %q: %v", rule.Name, err)
		}
	}
}
