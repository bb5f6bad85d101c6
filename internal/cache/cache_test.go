package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"OpenMCP-Goals/internal/goal"
)

type failingBackend struct {
	*MemoryBackend
	calls int
}

func (f *failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return nil, false, errors.New("connection refused")
}

func (f *failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	f.calls++
	return errors.New("connection refused")
}

func (f *failingBackend) Ping(context.Context) error { return errors.New("connection refused") }

type slowBackend struct {
	*MemoryBackend
	deadlineSeen bool
}

func (s *slowBackend) Get(ctx context.Context, _ string) ([]byte, bool, error) {
	_, s.deadlineSeen = ctx.Deadline()
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func TestLayerRoundTrip(t *testing.T) {
	backend := NewMemoryBackend()
	layer := New(backend, Config{})
	ctx := context.Background()

	layer.SetGoal(ctx, &goal.Goal{ID: "GOAL-0001", Description: "ship", Status: goal.GoalPlanned, TaskIDs: []string{"TASK-0001"}})
	got, ok := layer.GetGoal(ctx, "GOAL-0001")
	if !ok || got.Description != "ship" || got.TaskIDs[0] != "TASK-0001" {
		t.Fatalf("unexpected cached goal %+v ok=%v", got, ok)
	}
	if _, ok := backend.entries["goal_agent_cache:goal:GOAL-0001"]; !ok {
		t.Fatalf("expected namespaced key, have %v", backend.entries)
	}

	layer.SetTask(ctx, &goal.Task{ID: "TASK-0001", GoalID: "GOAL-0001"})
	layer.SetTask(ctx, &goal.Task{ID: "TASK-0002", GoalID: "GOAL-0001"})
	layer.EvictTasks(ctx, "TASK-0001", "TASK-0002")
	layer.EvictGoal(ctx, "GOAL-0001")
	if backend.Len() != 0 {
		t.Fatalf("expected empty cache after eviction, got %d", backend.Len())
	}
}

func TestLayerExpiresEntries(t *testing.T) {
	backend := NewMemoryBackend()
	now := time.Now()
	backend.now = func() time.Time { return now }
	layer := New(backend, Config{TTL: time.Minute, Prefix: "test"})
	ctx := context.Background()

	layer.SetTask(ctx, &goal.Task{ID: "TASK-0001"})
	if _, ok := layer.GetTask(ctx, "TASK-0001"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := layer.GetTask(ctx, "TASK-0001"); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestLayerSwallowsBackendFailures(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	layer := New(backend, Config{})
	ctx := context.Background()

	layer.SetGoal(ctx, &goal.Goal{ID: "GOAL-0001"})
	if _, ok := layer.GetGoal(ctx, "GOAL-0001"); ok {
		t.Fatalf("failing backend must report a miss")
	}
	if backend.calls != 2 {
		t.Fatalf("expected both calls to reach the backend, got %d", backend.calls)
	}
	if layer.Available(ctx) {
		t.Fatalf("failing backend should not be available")
	}
}

type rejectingSetBackend struct {
	*MemoryBackend
	rejectSet bool
}

func (r *rejectingSetBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.rejectSet {
		return errors.New("OOM command not allowed")
	}
	return r.MemoryBackend.Set(ctx, key, value, ttl)
}

func TestLayerEvictsStaleEntryWhenSetFails(t *testing.T) {
	backend := &rejectingSetBackend{MemoryBackend: NewMemoryBackend()}
	layer := New(backend, Config{})
	ctx := context.Background()

	layer.SetTask(ctx, &goal.Task{ID: "TASK-0001", Status: goal.TaskPending})
	backend.rejectSet = true
	layer.SetTask(ctx, &goal.Task{ID: "TASK-0001", Status: goal.TaskCompleted})

	if cached, ok := layer.GetTask(ctx, "TASK-0001"); ok {
		t.Fatalf("stale entry still served: %+v", cached)
	}
	if backend.Len() != 0 {
		t.Fatalf("stale entry should be evicted, have %d", backend.Len())
	}
}

func TestLayerDropsUndecodableEntries(t *testing.T) {
	backend := NewMemoryBackend()
	layer := New(backend, Config{})
	ctx := context.Background()

	_ = backend.Set(ctx, layer.Key("task", "TASK-0001"), []byte("{not json"), 0)
	if _, ok := layer.GetTask(ctx, "TASK-0001"); ok {
		t.Fatalf("corrupt entry must miss")
	}
	if backend.Len() != 0 {
		t.Fatalf("corrupt entry should be evicted")
	}
}

func TestLayerAppliesTimeout(t *testing.T) {
	backend := &slowBackend{MemoryBackend: NewMemoryBackend()}
	layer := New(backend, Config{Timeout: 10 * time.Millisecond})

	start := time.Now()
	if _, ok := layer.GetGoal(context.Background(), "GOAL-0001"); ok {
		t.Fatalf("slow backend must miss")
	}
	if !backend.deadlineSeen {
		t.Fatalf("backend call should carry a deadline")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not applied, took %s", elapsed)
	}
}

func TestDisabledLayer(t *testing.T) {
	layer := Disabled()
	ctx := context.Background()
	layer.SetGoal(ctx, &goal.Goal{ID: "GOAL-0001"})
	if _, ok := layer.GetGoal(ctx, "GOAL-0001"); ok {
		t.Fatalf("disabled layer must miss")
	}
	if layer.Enabled() || layer.Available(ctx) {
		t.Fatalf("disabled layer reports enabled")
	}
	if err := layer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
