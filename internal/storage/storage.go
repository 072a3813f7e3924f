// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for relational state: alert rules and
// instances, servers, jobs and executions.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	Rules() RuleRepository
	Instances() InstanceRepository
	Servers() ServerRepository
	Jobs() JobRepository
	Executions() ExecutionRepository
}

// RuleRepository defines operations for alert rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	GetByName(ctx context.Context, name string) (*models.AlertRule, error)
	// Update writes the rule definition. Trigger bookkeeping is never touched.
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.AlertRule, error)
	ListEnabled(ctx context.Context) ([]*models.AlertRule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// RecordTrigger inserts inst and advances the owning rule's
	// last-triggered timestamp and trigger count in one transaction. The
	// update only applies while the rule is enabled and its throttle window
	// has elapsed at inst.TriggeredAt; otherwise nothing is written and
	// false is returned.
	RecordTrigger(ctx context.Context, inst *models.AlertInstance) (bool, error)
}

// InstanceFilter narrows instance listings.
type InstanceFilter struct {
	Statuses   []models.AlertStatus
	RuleID     string
	Severity   models.Severity
	JobID      string
	ServerName string
	Limit      int
	Offset     int
}

// InstanceRepository defines operations for alert instances.
type InstanceRepository interface {
	GetByID(ctx context.Context, id string) (*models.AlertInstance, error)
	List(ctx context.Context, filter *InstanceFilter) ([]*models.AlertInstance, int64, error)
	ListActive(ctx context.Context) ([]*models.AlertInstance, error)
	// UpdateStatus persists the lifecycle fields of inst only if the stored
	// status still equals from.
	UpdateStatus(ctx context.Context, inst *models.AlertInstance, from models.AlertStatus) (bool, error)
	AddDeliveries(ctx context.Context, id string, deliveries []models.NotificationDelivery) error
	Summary(ctx context.Context) (*models.AlertSummary, error)
	// DeleteClosedBefore purges Resolved and Suppressed instances triggered before the cutoff.
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ServerRepository defines operations for monitored servers.
type ServerRepository interface {
	// Heartbeat upserts the server, stamps its heartbeat and brings it
	// Online unless it is in maintenance. It returns the status held before.
	Heartbeat(ctx context.Context, hb *models.Heartbeat, at time.Time) (models.ServerStatus, error)
	GetByName(ctx context.Context, name string) (*models.Server, error)
	List(ctx context.Context) ([]*models.Server, error)
	ListByStatus(ctx context.Context, status models.ServerStatus) ([]*models.Server, error)
	// ListStale returns active Online servers whose last heartbeat is older than before.
	ListStale(ctx context.Context, before time.Time) ([]*models.Server, error)
	// SetStatus moves a server from one status to another, conditionally.
	SetStatus(ctx context.Context, name string, from, to models.ServerStatus) (bool, error)
	SetMaintenance(ctx context.Context, name string, enabled bool) error
	StatusCounts(ctx context.Context) (map[models.ServerStatus]int64, error)
}

// JobRepository defines operations for registered jobs.
type JobRepository interface {
	// Register creates the job or updates its definition.
	Register(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	ListActive(ctx context.Context) ([]*models.Job, error)
}

// ExecutionRepository defines operations for job executions.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// Complete stores the final state of exec if the stored execution is
	// still Pending or Running. The owning job's last-execution fields are
	// updated in the same transaction.
	Complete(ctx context.Context, exec *models.Execution) (bool, error)
	ListRunning(ctx context.Context) ([]*models.Execution, error)
	// ListRecentFailures returns Failed and TimedOut executions completed
	// at or after since, newest first. An empty jobID matches every job.
	ListRecentFailures(ctx context.Context, since time.Time, limit int, jobID string) ([]*models.Execution, error)
	// ListRecentCompleted returns the latest completed executions of a job, newest first.
	ListRecentCompleted(ctx context.Context, jobID string, limit int) ([]*models.Execution, error)
	JobStats(ctx context.Context, since time.Time) ([]models.JobStats, error)
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}
