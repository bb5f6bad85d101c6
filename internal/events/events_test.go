package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingChannel struct {
	channel string
	payload []byte
	err     error
}

func (r *recordingChannel) Publish(_ context.Context, channel string, payload []byte) error {
	r.channel = channel
	r.payload = payload
	return r.err
}

type fakeAMQP struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakeAMQP) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeAMQP) Close() error {
	f.closed = true
	return nil
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	a := New(GoalCreated, "GOAL-0001", "", "planned", at)
	b := New(GoalCreated, "GOAL-0001", "", "planned", at)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.Location() != time.UTC {
		t.Fatalf("timestamp should be UTC")
	}
}

func TestRedisPublisherEncodesJSON(t *testing.T) {
	rec := &recordingChannel{}
	closed := false
	pub := NewRedis(rec, "", func() error { closed = true; return nil })

	event := New(TaskStatusChanged, "GOAL-0001", "TASK-0002", "completed", time.Now())
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rec.channel != DefaultChannel {
		t.Fatalf("unexpected channel %q", rec.channel)
	}
	var decoded Event
	if err := json.Unmarshal(rec.payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TaskID != "TASK-0002" || decoded.Type != TaskStatusChanged {
		t.Fatalf("unexpected event %+v", decoded)
	}
	_ = pub.Close()
	if !closed {
		t.Fatalf("closer not invoked")
	}

	rec.err = errors.New("down")
	if err := pub.Publish(context.Background(), event); err == nil {
		t.Fatalf("expected publish error to propagate")
	}
}

func TestRabbitMQPublisherRoutesByType(t *testing.T) {
	ch := &fakeAMQP{}
	pub := &RabbitMQ{ch: ch, exchange: "goal_agent.events"}

	event := New(GoalCompleted, "GOAL-0001", "", "completed", time.Now())
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != "goal_agent.events" || ch.key != "goal.completed" {
		t.Fatalf("unexpected routing %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.MessageId != event.ID {
		t.Fatalf("unexpected message %+v", ch.msg)
	}
	if err := pub.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v closed=%v", err, ch.closed)
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	if _, err := NewRabbitMQ(RabbitMQConfig{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestMemoryFiltersByType(t *testing.T) {
	mem := NewMemory()
	_ = mem.Publish(context.Background(), New(GoalCreated, "GOAL-0001", "", "", time.Now()))
	_ = mem.Publish(context.Background(), New(TaskCreated, "GOAL-0001", "TASK-0001", "", time.Now()))
	if len(mem.Events()) != 2 || len(mem.OfType(TaskCreated)) != 1 {
		t.Fatalf("unexpected events %+v", mem.Events())
	}
}
