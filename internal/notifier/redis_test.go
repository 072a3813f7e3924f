package notifier

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := encodeEnvelope("node-a", "alerts", []byte(`{"type":"alert.triggered"}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := decodeEnvelope(string(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.NodeID != "node-a" || env.Group != "alerts" || string(env.Payload) != `{"type":"alert.triggered"}` {
		t.Errorf("unexpected envelope %+v", env)
	}

	if _, err := decodeEnvelope(`{"node_id":"x","payload":{}}`); err == nil {
		t.Error("expected error for missing group")
	}
	if _, err := decodeEnvelope("not json"); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestRedisRelayHandle(t *testing.T) {
	local := newRecordingTransport()
	relay := NewRedisRelay(nil, "node-b", "", local)

	remote, _ := encodeEnvelope("node-a", "alerts", []byte(`{}`))
	own, _ := encodeEnvelope("node-b", "alerts", []byte(`{}`))
	mismatched, _ := encodeEnvelope("node-a", "dashboard", []byte(`{}`))

	ctx := context.Background()
	relay.handle(ctx, &redis.Message{Channel: defaultChannelPrefix + "alerts", Payload: string(remote)})
	relay.handle(ctx, &redis.Message{Channel: defaultChannelPrefix + "alerts", Payload: string(own)})
	relay.handle(ctx, &redis.Message{Channel: defaultChannelPrefix + "alerts", Payload: string(mismatched)})
	relay.handle(ctx, &redis.Message{Channel: defaultChannelPrefix + "alerts", Payload: "garbage"})

	if got := local.count("alerts"); got != 1 {
		t.Errorf("relayed alerts = %d, want 1", got)
	}
	if got := local.count("dashboard"); got != 0 {
		t.Errorf("relayed dashboard = %d, want 0", got)
	}
}

// TestRedisFanOut needs a reachable Redis; set LOGNEXUS_TEST_REDIS=host:port.
func TestRedisFanOut(t *testing.T) {
	addr := os.Getenv("LOGNEXUS_TEST_REDIS")
	if addr == "" {
		t.Skip("LOGNEXUS_TEST_REDIS not set")
	}

	client := NewRedisClient(RedisConfig{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	prefix := "lognexus:test:" + time.Now().Format("150405.000") + ":"
	hub := NewHub()
	sub := hub.Subscribe([]string{"alerts"}, 1)
	defer sub.Close()

	relay := NewRedisRelay(client, "node-b", prefix, hub)
	go relay.Run(ctx)
	time.Sleep(200 * time.Millisecond)

	publisher := NewRedisTransport(client, "node-a", prefix)
	if err := publisher.BroadcastToGroup(ctx, "alerts", []byte(`{"type":"alert.triggered"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-sub.C:
		if string(payload) != `{"type":"alert.triggered"}` {
			t.Errorf("payload = %s", payload)
		}
	case <-ctx.Done():
		t.Fatal("relay did not deliver the message")
	}
}
