package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Address: srv.Addr()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestClientSetGetDelete(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	if _, found, err := client.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
	if err := client.Set(ctx, "goal_agent_cache:goal:GOAL-0001", []byte(`{"id":"GOAL-0001"}`), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := srv.TTL("goal_agent_cache:goal:GOAL-0001"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}
	value, found, err := client.Get(ctx, "goal_agent_cache:goal:GOAL-0001")
	if err != nil || !found || string(value) != `{"id":"GOAL-0001"}` {
		t.Fatalf("unexpected get: %s %v %v", value, found, err)
	}

	srv.FastForward(2 * time.Hour)
	if _, found, _ := client.Get(ctx, "goal_agent_cache:goal:GOAL-0001"); found {
		t.Fatalf("expected key to expire")
	}

	_ = client.Set(ctx, "a", []byte("1"), time.Minute)
	_ = client.Set(ctx, "b", []byte("2"), time.Minute)
	if err := client.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if srv.Exists("a") || srv.Exists("b") {
		t.Fatalf("keys should be deleted")
	}
}

func TestClientPublish(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	sub := client.rdb.Subscribe(ctx, "goal_agent.events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := client.Publish(ctx, "goal_agent.events", []byte(`{"type":"goal.created"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		if msg.Payload != `{"type":"goal.created"}` {
			t.Fatalf("unexpected payload: %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}

	srv.Close()
	if err := client.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure after server shutdown")
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
