package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

const vacuumInterval = 7 * 24 * time.Hour

// Vacuumer compacts the relational store.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Retention sets how long each kind of record is kept. Zero keeps forever.
type Retention struct {
	Logs       time.Duration
	Alerts     time.Duration
	Executions time.Duration
}

// Maintenance purges expired records and vacuums the store weekly.
type Maintenance struct {
	logs       storage.LogRepository
	instances  storage.InstanceRepository
	executions storage.ExecutionRepository
	vacuumer   Vacuumer
	retention  Retention
	now        func() time.Time
	lastVacuum time.Time
	log        *logger.Logger
}

// NewMaintenance creates the loop. vacuumer may be nil.
func NewMaintenance(logs storage.LogRepository, instances storage.InstanceRepository, executions storage.ExecutionRepository, vacuumer Vacuumer, retention Retention) *Maintenance {
	return &Maintenance{
		logs:       logs,
		instances:  instances,
		executions: executions,
		vacuumer:   vacuumer,
		retention:  retention,
		now:        time.Now,
		lastVacuum: time.Now(),
		log:        logger.WithPrefix("maintenance"),
	}
}

// Run performs one maintenance cycle. A failing purge does not stop the
// others.
func (m *Maintenance) Run(ctx context.Context) error {
	now := m.now().UTC()
	var errs []error

	purge := func(kind string, keep time.Duration, fn func(context.Context, time.Time) (int64, error)) {
		if keep <= 0 {
			return
		}
		n, err := fn(ctx, now.Add(-keep))
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", kind, err))
			return
		}
		if n > 0 {
			metrics.RetentionDeletedTotal.WithLabelValues(kind).Add(float64(n))
			m.log.Infof("purged %d %s older than %s", n, kind, keep)
		}
	}

	purge("logs", m.retention.Logs, m.logs.DeleteBefore)
	purge("alerts", m.retention.Alerts, m.instances.DeleteClosedBefore)
	purge("executions", m.retention.Executions, m.executions.DeleteCompletedBefore)

	if m.vacuumer != nil && now.Sub(m.lastVacuum) >= vacuumInterval {
		if err := m.vacuumer.Vacuum(ctx); err != nil {
			errs = append(errs, fmt.Errorf("vacuum: %w", err))
		} else {
			m.lastVacuum = now
			m.log.Infof("vacuum complete")
		}
	}

	return errors.Join(errs...)
}
