package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/internal/notifier"
)

func TestJobHealthMonitor_DeltaAndEviction(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	now := time.Now().UTC()

	registerJob(t, store, "import-01", 0, true)
	registerJob(t, store, "export-01", 0, true)
	for i := 0; i < 4; i++ {
		finishExecution(t, store, "import-01", models.ExecutionSuccess, now.Add(-time.Duration(i+1)*time.Hour))
	}

	m := NewJobHealthMonitor(store.Jobs(), store.Executions(), pub, 10)
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	first := pub.ofType(notifier.EventJobHealth)
	if len(first) != 2 {
		t.Fatalf("first pass events = %d, want 2", len(first))
	}
	for _, ev := range first {
		h := ev.Data.(JobHealth)
		if h.SuccessRate != 100 || h.Previous != nil {
			t.Errorf("%s health = %+v, want 100 with no previous", h.JobID, h)
		}
	}

	// One success more: 100 -> 100, no change.
	finishExecution(t, store, "import-01", models.ExecutionSuccess, now.Add(-time.Minute))
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(pub.ofType(notifier.EventJobHealth)); n != 2 {
		t.Fatalf("events after stable pass = %d, want 2", n)
	}

	// One failure: 5/6 = 83.3, a drop beyond the threshold.
	finishExecution(t, store, "import-01", models.ExecutionFailed, now.Add(-30*time.Second))
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := pub.ofType(notifier.EventJobHealth)
	if len(events) != 3 {
		t.Fatalf("events after failure = %d, want 3", len(events))
	}
	h := events[2].Data.(JobHealth)
	if h.JobID != "import-01" || h.Previous == nil || *h.Previous != 100 {
		t.Errorf("health = %+v", h)
	}
	if h.SuccessRate > 84 || h.SuccessRate < 83 {
		t.Errorf("success rate = %v, want ~83.3", h.SuccessRate)
	}

	if got := m.tracked(); got != 2 {
		t.Errorf("tracked = %d, want 2", got)
	}
	registerJob(t, store, "export-01", 0, false)
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := m.tracked(); got != 1 {
		t.Errorf("tracked after deactivation = %d, want 1", got)
	}
}
