package notifier

import (
	"context"
	"testing"
)

func TestHubSubscribeAndDeliver(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe([]string{"alerts", "job:import-01"}, 2)
	b := hub.Subscribe([]string{"dashboard"}, 2)
	defer a.Close()
	defer b.Close()

	if hub.Subscribers("alerts") != 1 || hub.Subscribers("dashboard") != 1 {
		t.Fatal("unexpected subscriber counts")
	}

	hub.BroadcastToGroup(context.Background(), "job:import-01", []byte("x"))

	if got := <-a.C; string(got) != "x" {
		t.Errorf("got %q", got)
	}
	select {
	case <-b.C:
		t.Error("dashboard subscriber should not receive job messages")
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe([]string{"alerts"}, 1)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		if err := hub.BroadcastToGroup(context.Background(), "alerts", []byte("m")); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
	}
	if hub.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", hub.Dropped())
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe([]string{"alerts"}, 0)
	sub.Close()
	sub.Close()

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed")
	}
	if hub.Subscribers("alerts") != 0 {
		t.Error("subscriber should be removed")
	}
	// Broadcasting after close must not panic.
	hub.BroadcastToGroup(context.Background(), "alerts", []byte("m"))
}
