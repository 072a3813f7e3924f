package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lognexus-monitor-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})
	return store
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*notifier.Event
}

func (p *recordingPublisher) Broadcast(_ context.Context, ev *notifier.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) ofType(t notifier.EventType) []*notifier.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*notifier.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newService(store *storage.SQLiteStorage, pub alerting.Publisher) *alerting.Service {
	return alerting.NewService(store.Rules(), store.Instances(), pub, nil)
}

func createRule(t *testing.T, store *storage.SQLiteStorage, name string, typ models.AlertType, mutate func(*models.AlertRule)) *models.AlertRule {
	t.Helper()
	rule := models.NewAlertRule(name, typ, models.SeverityHigh)
	rule.ID = uuid.New().String()
	rule.ThrottleMinutes = 15
	if mutate != nil {
		mutate(rule)
	}
	if err := store.Rules().Create(context.Background(), rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func registerJob(t *testing.T, store *storage.SQLiteStorage, jobID string, timeoutMinutes int, active bool) {
	t.Helper()
	job := &models.Job{
		JobID:          jobID,
		DisplayName:    jobID,
		ServerName:     "web-1",
		IsActive:       active,
		TimeoutMinutes: timeoutMinutes,
	}
	if err := store.Jobs().Register(context.Background(), job); err != nil {
		t.Fatalf("register job: %v", err)
	}
}

func startExecution(t *testing.T, store *storage.SQLiteStorage, jobID string, started time.Time) *models.Execution {
	t.Helper()
	exec := &models.Execution{
		ID:          uuid.New().String(),
		JobID:       jobID,
		ServerName:  "web-1",
		Status:      models.ExecutionRunning,
		StartedAt:   started.UTC().Truncate(time.Millisecond),
		TriggerType: models.TriggerScheduled,
	}
	if err := store.Executions().Create(context.Background(), exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return exec
}

func finishExecution(t *testing.T, store *storage.SQLiteStorage, jobID string, status models.ExecutionStatus, completed time.Time) {
	t.Helper()
	exec := startExecution(t, store, jobID, completed.Add(-time.Minute))
	exec.Complete(status, "", "", completed.UTC().Truncate(time.Millisecond))
	if ok, err := store.Executions().Complete(context.Background(), exec); err != nil || !ok {
		t.Fatalf("complete execution: %v %v", ok, err)
	}
}

func heartbeat(t *testing.T, store *storage.SQLiteStorage, name string, at time.Time) {
	t.Helper()
	if _, err := store.Servers().Heartbeat(context.Background(), &models.Heartbeat{ServerName: name}, at.UTC()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func instancesFor(t *testing.T, store *storage.SQLiteStorage, ruleID string) []*models.AlertInstance {
	t.Helper()
	list, _, err := store.Instances().List(context.Background(), &storage.InstanceFilter{RuleID: ruleID, Limit: 100})
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	return list
}
