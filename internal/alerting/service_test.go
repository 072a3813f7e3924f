package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
)

func TestTriggerAlertUnknownRule(t *testing.T) {
	store := setupTestDB(t)
	svc := NewService(store.Rules(), store.Instances(), nil, nil)

	_, err := svc.TriggerAlert(context.Background(), TriggerRequest{RuleID: "missing", Message: "x"})
	if !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestTriggerAlertManualCustomRule(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	rule := createRule(t, store, "Deploy window", models.AlertTypeCustom, func(r *models.AlertRule) {
		r.Severity = models.SeverityCritical
		r.ServerName = "web-1"
		r.Description = "manual page"
		r.Notify = []models.NotificationTarget{{Channel: "slack", Recipient: "#ops"}, {Channel: "broken"}}
	})

	pub := &recordingPublisher{store: store}
	deliverer := &fakeDeliverer{}
	svc := NewService(store.Rules(), store.Instances(), pub, deliverer)

	inst, err := svc.TriggerAlert(ctx, TriggerRequest{
		RuleID:  rule.ID,
		Message: "deploy started",
		Context: map[string]any{"by": "ops"},
	})
	if err != nil {
		t.Fatalf("TriggerAlert: %v", err)
	}
	if inst == nil {
		t.Fatal("expected an instance")
	}
	if inst.Severity != models.SeverityCritical || inst.ServerName != "web-1" {
		t.Errorf("instance should take severity and scope from the rule: %+v", inst)
	}

	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	stored, err := store.Instances().GetByID(ctx, inst.ID)
	if err != nil || stored == nil {
		t.Fatalf("instance not stored: %v", err)
	}
	if len(stored.Deliveries) != 2 || !stored.Deliveries[0].Success || stored.Deliveries[1].Success {
		t.Errorf("delivery audit trail not recorded: %+v", stored.Deliveries)
	}
	if stored.Context["by"] != "ops" {
		t.Errorf("context not stored: %v", stored.Context)
	}

	events := pub.ofType(notifier.EventAlertTriggered)
	if len(events) != 1 {
		t.Fatalf("triggered events = %d, want 1", len(events))
	}
	groups := events[0].Groups()
	if groups[1] != notifier.GroupAlertsCritical {
		t.Errorf("critical alert should reach the critical tier group: %v", groups)
	}
	if pub.unstored != 0 {
		t.Error("broadcast happened before the instance was stored")
	}

	again, err := svc.TriggerAlert(ctx, TriggerRequest{RuleID: rule.ID, Message: "again"})
	if err != nil || again != nil {
		t.Errorf("second trigger should be throttled silently, got %v, %v", again, err)
	}
	svc.Drain(ctx)
	if calls, _ := deliverer.count(); calls != 1 {
		t.Errorf("deliveries attempted %d times, want 1", calls)
	}
}

func TestTriggerAlertDoesNotWaitForChannels(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	deliverer := &fakeDeliverer{hold: make(chan struct{})}
	svc := NewService(store.Rules(), store.Instances(), nil, deliverer)

	var ids []string
	for _, name := range []string{"Pager A", "Pager B", "Pager C"} {
		rule := createRule(t, store, name, models.AlertTypeCustom, func(r *models.AlertRule) {
			r.Notify = []models.NotificationTarget{{Channel: "webhook"}}
		})
		// A held channel must not stop the next rule from triggering.
		inst, err := svc.TriggerAlert(ctx, TriggerRequest{RuleID: rule.ID, Message: "fire"})
		if err != nil || inst == nil {
			t.Fatalf("TriggerAlert(%s) = %v, %v", name, inst, err)
		}
		if len(inst.Deliveries) != 0 {
			t.Errorf("returned instance carries deliveries before they were sent: %+v", inst.Deliveries)
		}
		ids = append(ids, inst.ID)
	}

	close(deliverer.hold)
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if calls, _ := deliverer.count(); calls != 3 {
		t.Errorf("deliveries = %d, want 3", calls)
	}
	for _, id := range ids {
		stored, err := store.Instances().GetByID(ctx, id)
		if err != nil || stored == nil || len(stored.Deliveries) != 1 {
			t.Errorf("instance %s deliveries not recorded: %+v, %v", id, stored, err)
		}
	}
}

func TestDrainCancelsStuckDeliveries(t *testing.T) {
	store := setupTestDB(t)
	deliverer := &fakeDeliverer{hold: make(chan struct{})}
	svc := NewService(store.Rules(), store.Instances(), nil, deliverer)
	rule := createRule(t, store, "Stuck", models.AlertTypeCustom, func(r *models.AlertRule) {
		r.Notify = []models.NotificationTarget{{Channel: "webhook"}}
	})
	if _, err := svc.TriggerAlert(context.Background(), TriggerRequest{RuleID: rule.ID, Message: "fire"}); err != nil {
		t.Fatalf("TriggerAlert: %v", err)
	}

	for deadline := time.Now().Add(2 * time.Second); ; {
		if calls, _ := deliverer.count(); calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain = %v, want deadline exceeded", err)
	}
	if calls, cancelled := deliverer.count(); calls != 1 || cancelled != 1 {
		t.Errorf("calls = %d, cancelled = %d, want 1 and 1", calls, cancelled)
	}
}

func TestTriggerAlertDisabledRule(t *testing.T) {
	store := setupTestDB(t)
	rule := createRule(t, store, "Off", models.AlertTypeCustom, func(r *models.AlertRule) { r.Enabled = false })
	svc := NewService(store.Rules(), store.Instances(), nil, nil)

	inst, err := svc.TriggerAlert(context.Background(), TriggerRequest{RuleID: rule.ID, Message: "x"})
	if err != nil || inst != nil {
		t.Errorf("disabled rule must not trigger: %v, %v", inst, err)
	}
}

func TestTriggerAlertThrottleWindow(t *testing.T) {
	store := setupTestDB(t)
	rule := createRule(t, store, "Spaced", models.AlertTypeCustom, func(r *models.AlertRule) { r.ThrottleMinutes = 15 })
	svc := NewService(store.Rules(), store.Instances(), nil, nil)

	clock := time.Now()
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	fire := func() bool {
		inst, err := svc.TriggerAlert(ctx, TriggerRequest{RuleID: rule.ID, Message: "x"})
		if err != nil {
			t.Fatalf("TriggerAlert: %v", err)
		}
		return inst != nil
	}

	if !fire() {
		t.Fatal("first trigger should create an instance")
	}
	clock = clock.Add(14 * time.Minute)
	if fire() {
		t.Error("trigger inside the throttle window should be suppressed")
	}
	clock = clock.Add(time.Minute)
	if !fire() {
		t.Error("trigger at the end of the throttle window should create an instance")
	}
}

func TestTriggerAlertConcurrent(t *testing.T) {
	store := setupTestDB(t)
	rule := createRule(t, store, "Race", models.AlertTypeCustom, nil)
	svc := NewService(store.Rules(), store.Instances(), nil, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := svc.TriggerAlert(context.Background(), TriggerRequest{RuleID: rule.ID, Message: "x"})
			if err != nil {
				t.Errorf("TriggerAlert: %v", err)
				return
			}
			if inst != nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created %d instances, want 1", created)
	}
	if got := len(countInstances(t, store, rule.ID)); got != 1 {
		t.Errorf("stored %d instances, want 1", got)
	}
}

func TestInstanceLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	rule := createRule(t, store, "Lifecycle", models.AlertTypeCustom, nil)
	pub := &recordingPublisher{}
	svc := NewService(store.Rules(), store.Instances(), pub, nil)

	inst, err := svc.TriggerAlert(ctx, TriggerRequest{RuleID: rule.ID, Message: "x"})
	if err != nil || inst == nil {
		t.Fatalf("TriggerAlert: %v, %v", inst, err)
	}

	acked, err := svc.Acknowledge(ctx, inst.ID, "alice", "looking")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if acked.Status != models.AlertStatusAcknowledged || acked.AcknowledgedBy != "alice" {
		t.Errorf("unexpected acknowledged instance %+v", acked)
	}

	if _, err := svc.Acknowledge(ctx, inst.ID, "bob", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second acknowledge should be rejected, got %v", err)
	}

	resolved, err := svc.Resolve(ctx, inst.ID, "bob", "fixed")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.AcknowledgedBy != "alice" || resolved.ResolvedBy != "bob" {
		t.Errorf("resolve must keep the acknowledgement: %+v", resolved)
	}

	if _, err := svc.Suppress(ctx, inst.ID, "carol", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("suppressing a resolved instance should be rejected, got %v", err)
	}

	stored, _ := store.Instances().GetByID(ctx, inst.ID)
	if stored.Status != models.AlertStatusResolved || stored.SuppressedBy != "" {
		t.Errorf("rejected transition must not write: %+v", stored)
	}

	if len(pub.ofType(notifier.EventAlertAcknowledged)) != 1 || len(pub.ofType(notifier.EventAlertResolved)) != 1 {
		t.Error("each successful transition should be broadcast once")
	}
	if len(pub.ofType(notifier.EventAlertSuppressed)) != 0 {
		t.Error("rejected transitions must not be broadcast")
	}

	if _, err := svc.Resolve(ctx, "missing", "x", ""); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestMatchingRules(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	createRule(t, store, "Any server", models.AlertTypeServerOffline, nil)
	createRule(t, store, "Web-2 only", models.AlertTypeServerOffline, func(r *models.AlertRule) { r.ServerName = "web-2" })
	createRule(t, store, "Disabled", models.AlertTypeServerOffline, func(r *models.AlertRule) { r.Enabled = false })
	createRule(t, store, "Other type", models.AlertTypeCustom, nil)

	svc := NewService(store.Rules(), store.Instances(), nil, nil)
	rules, err := svc.MatchingRules(ctx, models.AlertTypeServerOffline, "", "WEB-1")
	if err != nil {
		t.Fatalf("MatchingRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "Any server" {
		t.Errorf("unexpected rules %v", rules)
	}
}

func TestServerOfflineDecision(t *testing.T) {
	now := time.Now()
	rule := models.NewAlertRule("Offline", models.AlertTypeServerOffline, models.SeverityHigh)
	rule.Condition = map[string]any{"offlineMinutes": 10}

	hb := now.Add(-12 * time.Minute)
	srv := &models.Server{Name: "web-1", Status: models.ServerStatusOffline, LastHeartbeat: &hb}
	d, ok := ServerOfflineDecision(rule, srv, now)
	if !ok || d.ServerName != "web-1" {
		t.Fatalf("expected decision for web-1, got %+v %v", d, ok)
	}

	recent := now.Add(-5 * time.Minute)
	srv.LastHeartbeat = &recent
	if _, ok := ServerOfflineDecision(rule, srv, now); ok {
		t.Error("server offline for less than offlineMinutes should not qualify")
	}

	srv.LastHeartbeat = &hb
	srv.Status = models.ServerStatusOnline
	if _, ok := ServerOfflineDecision(rule, srv, now); ok {
		t.Error("online server should not qualify")
	}
}

func TestDurationExceededDecision(t *testing.T) {
	now := time.Now()
	rule := models.NewAlertRule("Slow", models.AlertTypeDurationExceeded, models.SeverityMedium)

	timedOut := &models.Execution{ID: "e1", JobID: "IMPORT-01", ServerName: "web-1", Status: models.ExecutionTimedOut, StartedAt: now.Add(-40 * time.Minute)}
	if _, ok := DurationExceededDecision(rule, timedOut, now); !ok {
		t.Error("timed out execution should qualify")
	}

	running := &models.Execution{ID: "e2", JobID: "IMPORT-01", ServerName: "web-1", Status: models.ExecutionRunning, StartedAt: now.Add(-40 * time.Minute)}
	if _, ok := DurationExceededDecision(rule, running, now); ok {
		t.Error("running execution without a limit should not qualify")
	}

	rule.Condition = map[string]any{"maxDurationMinutes": 30}
	d, ok := DurationExceededDecision(rule, running, now)
	if !ok || d.JobID != "IMPORT-01" {
		t.Errorf("running execution past the limit should qualify: %+v %v", d, ok)
	}

	rule.JobID = "EXPORT-02"
	if _, ok := DurationExceededDecision(rule, running, now); ok {
		t.Error("execution outside the rule scope should not qualify")
	}
}
