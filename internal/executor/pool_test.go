package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapCollectsEveryItem(t *testing.T) {
	pool := NewPool(3)
	defer pool.Shutdown(context.Background())

	items := []int{1, 2, 3, 4, 5, 6, 7}
	results, err := Map(context.Background(), pool, items, func(_ context.Context, n int) (int, error) {
		if n == 4 {
			return 0, errors.New("four is unlucky")
		}
		return n * n, nil
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	seen := make(map[int]bool)
	failures := 0
	for _, res := range results {
		seen[res.Index] = true
		if res.Err != nil {
			failures++
			continue
		}
		if want := items[res.Index] * items[res.Index]; res.Value != want {
			t.Fatalf("item %d: want %d got %d", res.Index, want, res.Value)
		}
	}
	if failures != 1 || len(seen) != len(items) {
		t.Fatalf("unexpected outcome: failures=%d seen=%v", failures, seen)
	}
}

func TestMapRunsConcurrently(t *testing.T) {
	pool := NewPool(4)
	defer pool.Shutdown(context.Background())

	var running, peak atomic.Int32
	_, err := Map(context.Background(), pool, make([]struct{}, 8), func(context.Context, struct{}) (struct{}, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if peak.Load() < 2 {
		t.Fatalf("expected parallel execution, peak=%d", peak.Load())
	}
	if peak.Load() > 4 {
		t.Fatalf("pool size exceeded, peak=%d", peak.Load())
	}
}

func TestMapIsolatesPanics(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown(context.Background())

	results, err := Map(context.Background(), pool, []string{"ok", "boom"}, func(_ context.Context, s string) (string, error) {
		if s == "boom" {
			panic("kaboom")
		}
		return s, nil
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	for _, res := range results {
		if res.Index == 1 && res.Err == nil {
			t.Fatalf("panicking item must report an error")
		}
		if res.Index == 0 && (res.Err != nil || res.Value != "ok") {
			t.Fatalf("healthy item affected: %+v", res)
		}
	}
}

func TestMapCallerCancellationDoesNotAbortItems(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)
	var itemCtxErr error

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Map(ctx, pool, []int{1}, func(itemCtx context.Context, _ int) (int, error) {
		defer finished.Done()
		<-release
		itemCtxErr = itemCtx.Err()
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller cancellation, got %v", err)
	}
	close(release)
	finished.Wait()
	if itemCtxErr != nil {
		t.Fatalf("item context should not be cancelled, got %v", itemCtxErr)
	}
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	pool := NewPool(2)
	var done atomic.Int32
	for i := 0; i < 6; i++ {
		if err := pool.Submit(context.Background(), func() {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if done.Load() != 6 {
		t.Fatalf("expected all queued work to finish, got %d", done.Load())
	}
	if err := pool.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestShutdownHonoursDeadline(t *testing.T) {
	pool := NewPool(1)
	block := make(chan struct{})
	_ = pool.Submit(context.Background(), func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); err == nil {
		t.Fatalf("expected timeout while work is blocked")
	}
	close(block)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown after release: %v", err)
	}
}
