package alerting

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

func setupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "lognexus-alerting-*")
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

func insertErrors(t *testing.T, store *storage.SQLiteStorage, n int, server, jobID string, at time.Time) {
	t.Helper()
	batch := make([]*models.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, &models.LogEntry{
			ID:         uuid.New().String(),
			Timestamp:  at,
			Level:      models.LevelError,
			Message:    "import failed",
			ServerName: server,
			JobID:      jobID,
		})
	}
	if err := store.Logs().InsertBatch(context.Background(), batch); err != nil {
		t.Fatalf("insert logs: %v", err)
	}
}

func finishExecution(t *testing.T, store *storage.SQLiteStorage, jobID string, status models.ExecutionStatus, completed time.Time) *models.Execution {
	t.Helper()
	ctx := context.Background()
	exec := &models.Execution{
		ID:          uuid.New().String(),
		JobID:       jobID,
		ServerName:  "web-1",
		Status:      models.ExecutionRunning,
		StartedAt:   completed.Add(-time.Minute),
		TriggerType: models.TriggerScheduled,
	}
	if err := store.Executions().Create(ctx, exec); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	exec.Complete(status, "exit code 1", "", completed)
	if ok, err := store.Executions().Complete(ctx, exec); err != nil || !ok {
		t.Fatalf("complete execution: %v %v", ok, err)
	}
	return exec
}

func countInstances(t *testing.T, store *storage.SQLiteStorage, ruleID string) []*models.AlertInstance {
	t.Helper()
	list, _, err := store.Instances().List(context.Background(), &storage.InstanceFilter{RuleID: ruleID, Limit: 100})
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	return list
}

// recordingPublisher captures broadcast events. When store is set it checks
// that the instance of an alert event is already persisted.
type recordingPublisher struct {
	store *storage.SQLiteStorage

	mu       sync.Mutex
	events   []*notifier.Event
	unstored int
}

func (p *recordingPublisher) Broadcast(ctx context.Context, ev *notifier.Event) error {
	if inst, ok := ev.Data.(*models.AlertInstance); ok && p.store != nil {
		got, err := p.store.Instances().GetByID(ctx, inst.ID)
		if err != nil || got == nil {
			p.mu.Lock()
			p.unstored++
			p.mu.Unlock()
		}
	}
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

// fakeDeliverer marks the "broken" channel failed. With hold set, Deliver
// waits until hold is closed or its context ends.
type fakeDeliverer struct {
	hold chan struct{}

	mu        sync.Mutex
	calls     int
	cancelled int
}

func (d *fakeDeliverer) count() (calls, cancelled int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, d.cancelled
}

func (d *fakeDeliverer) Deliver(ctx context.Context, _ *models.AlertInstance, _ string, targets []models.NotificationTarget) []models.NotificationDelivery {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.hold != nil {
		select {
		case <-d.hold:
		case <-ctx.Done():
			d.mu.Lock()
			d.cancelled++
			d.mu.Unlock()
			return nil
		}
	}
	out := make([]models.NotificationDelivery, 0, len(targets))
	for _, tg := range targets {
		out = append(out, models.NotificationDelivery{
			Channel:     tg.Channel,
			Recipient:   tg.Recipient,
			Success:     tg.Channel != "broken",
			AttemptedAt: time.Now().UTC().Truncate(time.Millisecond),
		})
	}
	return out
}

func newTestEngine(store *storage.SQLiteStorage, pub Publisher) (*Engine, *Service) {
	svc := NewService(store.Rules(), store.Instances(), pub, nil)
	eng := NewEngine(store.Rules(), StateQuery{Logs: store.Logs(), Executions: store.Executions()}, svc)
	return eng, svc
}
