package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/meter"
	"github.com/vtpt/vtpt-meter/remote"
	"github.com/vtpt/vtpt-meter/storage"
)

// fakeSender scripts per-call outcomes and records delivery order.
type fakeSender struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	writes   []WritePayload
	deletes  []DeletePayload
	block    chan struct{} // when set, SendWrite blocks until closed
}

func (s *fakeSender) SendWrite(ctx context.Context, payload WritePayload) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.NewNetworkError(errors.OpFlush, fmt.Errorf("simulated network failure"))
	}
	s.writes = append(s.writes, payload)
	return nil
}

func (s *fakeSender) SendDelete(ctx context.Context, payload DeletePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.NewNetworkError(errors.OpFlush, fmt.Errorf("simulated network failure"))
	}
	s.deletes = append(s.deletes, payload)
	return nil
}

func testConfig() FlusherConfig {
	return FlusherConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
		MaxAge:         72 * time.Hour,
	}
}

func TestFlusher_Convergence(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	writes := NewWriteQueue(kv)
	deletes := NewDeleteQueue(kv)
	sender := &fakeSender{failures: 1}
	f := NewFlusher(writes, deletes, sender, testConfig())

	item, err := writes.EnqueueWrite(ctx, WritePayload{Action: ActionSave, Room: "A1-01", Dien: meter.Float(120)})
	if err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}

	// First flush fails: item stays with tries incremented.
	result := f.FlushWrites(ctx)
	if result.Failed != 1 || result.Sent != 0 {
		t.Fatalf("expected one failure, got %+v", result)
	}
	items, _ := writes.Items(ctx)
	if len(items) != 1 || items[0].Tries != 1 {
		t.Fatalf("failed item must stay queued with tries=1, got %+v", items)
	}

	// Second flush succeeds after the backoff window: item is removed.
	time.Sleep(5 * time.Millisecond)
	result = f.FlushWrites(ctx)
	if result.Sent != 1 {
		t.Fatalf("expected one delivery, got %+v", result)
	}
	if n, _ := writes.Len(ctx); n != 0 {
		t.Fatalf("acknowledged item must be removed, %d left", n)
	}
	if len(sender.writes) != 1 || sender.writes[0].Room != item.Write.Room {
		t.Fatalf("unexpected deliveries: %+v", sender.writes)
	}
}

func TestFlusher_OldestFirst(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	writes := NewWriteQueue(kv)
	sender := &fakeSender{}
	f := NewFlusher(writes, NewDeleteQueue(kv), sender, testConfig())

	for i := 0; i < 3; i++ {
		if _, err := writes.EnqueueWrite(ctx, WritePayload{Action: ActionSave, Room: fmt.Sprintf("A1-0%d", i+1)}); err != nil {
			t.Fatalf("EnqueueWrite failed: %v", err)
		}
	}

	f.FlushWrites(ctx)

	want := []string{"A1-01", "A1-02", "A1-03"}
	if len(sender.writes) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(sender.writes))
	}
	for i, room := range want {
		if sender.writes[i].Room != room {
			t.Fatalf("delivery %d: expected %s, got %s", i, room, sender.writes[i].Room)
		}
	}
}

func TestFlusher_BackoffGateSkips(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	writes := NewWriteQueue(kv)
	sender := &fakeSender{failures: 10}
	config := testConfig()
	config.InitialBackoff = time.Hour
	f := NewFlusher(writes, NewDeleteQueue(kv), sender, config)

	if _, err := writes.EnqueueWrite(ctx, WritePayload{Action: ActionSave, Room: "A1-01"}); err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}

	first := f.FlushWrites(ctx)
	if first.Failed != 1 {
		t.Fatalf("expected initial failure, got %+v", first)
	}

	// Immediately after a failure, the item is inside its backoff window.
	second := f.FlushWrites(ctx)
	if second.Skipped != 1 || second.Failed != 0 {
		t.Fatalf("expected backoff skip, got %+v", second)
	}
}

func TestFlusher_InFlightGuard(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	writes := NewWriteQueue(kv)
	sender := &fakeSender{block: make(chan struct{})}
	f := NewFlusher(writes, NewDeleteQueue(kv), sender, testConfig())

	if _, err := writes.EnqueueWrite(ctx, WritePayload{Action: ActionSave, Room: "A1-01"}); err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}

	started := make(chan struct{})
	done := make(chan FlushResult, 1)
	go func() {
		close(started)
		done <- f.FlushWrites(ctx)
	}()
	<-started
	time.Sleep(5 * time.Millisecond) // let the goroutine reach the blocking send

	// Second invocation while the first is in flight is a no-op.
	overlapped := f.FlushWrites(ctx)
	if overlapped.Sent != 0 || overlapped.Failed != 0 || overlapped.Skipped != 0 {
		t.Fatalf("overlapping flush must be a no-op, got %+v", overlapped)
	}

	close(sender.block)
	result := <-done
	if result.Sent != 1 {
		t.Fatalf("blocked flush should complete, got %+v", result)
	}
}

func TestFlusher_EvictsExpired(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	writes := NewWriteQueue(kv)
	sender := &fakeSender{}
	config := testConfig()
	config.MaxAge = time.Millisecond
	f := NewFlusher(writes, NewDeleteQueue(kv), sender, config)

	if _, err := writes.EnqueueWrite(ctx, WritePayload{Action: ActionSave, Room: "A1-01"}); err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	result := f.FlushWrites(ctx)
	if result.Evicted != 1 || result.Sent != 0 {
		t.Fatalf("expected eviction before delivery, got %+v", result)
	}
	if len(sender.writes) != 0 {
		t.Fatal("evicted items must not be delivered")
	}
}

func TestFlusher_FlushAllRunsDeletesFirst(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	writes := NewWriteQueue(kv)
	deletes := NewDeleteQueue(kv)
	sender := &fakeSender{}
	f := NewFlusher(writes, deletes, sender, testConfig())

	if _, err := writes.EnqueueWrite(ctx, WritePayload{Action: ActionSave, Room: "A1-01"}); err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}
	if _, _, err := deletes.EnqueueDelete(ctx, DeletePayload{Room: "A1-02", Target: remote.Target{ID: 9, Date: "2026-03-01"}}); err != nil {
		t.Fatalf("EnqueueDelete failed: %v", err)
	}

	result := f.FlushAll(ctx)
	if result.Sent != 2 {
		t.Fatalf("expected both queues drained, got %+v", result)
	}
	if len(sender.deletes) != 1 || len(sender.writes) != 1 {
		t.Fatalf("expected one delivery per queue, got %d deletes %d writes", len(sender.deletes), len(sender.writes))
	}
}
