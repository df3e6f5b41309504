package cache

import (
	"context"
	"testing"
	"time"

	"github.com/vtpt/vtpt-meter/storage"
)

func TestReadWrite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()

	if err := Write(ctx, kv, KeyCycle, "2026-03"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	env := Read[string](ctx, kv, KeyCycle)
	if env == nil {
		t.Fatal("expected envelope, got nil")
	}
	if env.Data != "2026-03" {
		t.Fatalf("unexpected data: %s", env.Data)
	}
	if env.SavedAt == 0 {
		t.Fatal("SavedAt was not stamped")
	}
}

func TestRead_MissingReturnsNil(t *testing.T) {
	kv := storage.NewMemory()
	if env := Read[string](context.Background(), kv, "nope"); env != nil {
		t.Fatal("expected nil for missing key")
	}
}

func TestRead_CorruptReturnsNil(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	if err := kv.Put(ctx, KeyCycle, []byte("{not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if env := Read[string](ctx, kv, KeyCycle); env != nil {
		t.Fatal("expected nil for corrupt blob")
	}
}

func TestIsStale_Boundary(t *testing.T) {
	ttl := 5 * time.Minute

	if !IsStale[string](nil, ttl) {
		t.Fatal("nil envelope must be stale")
	}

	fresh := &Envelope[string]{SavedAt: time.Now().UnixMilli()}
	if IsStale(fresh, ttl) {
		t.Fatal("fresh envelope must not be stale")
	}

	atBoundary := &Envelope[string]{SavedAt: time.Now().UnixMilli() - ttl.Milliseconds()}
	if !IsStale(atBoundary, ttl) {
		t.Fatal("envelope exactly at the TTL boundary must be stale")
	}

	justInside := &Envelope[string]{SavedAt: time.Now().UnixMilli() - ttl.Milliseconds() + 1000}
	if IsStale(justInside, ttl) {
		t.Fatal("envelope strictly inside the TTL must be fresh")
	}
}

func TestKeys(t *testing.T) {
	if KeyHouseLatest("H1") != "latest:H1" {
		t.Fatalf("unexpected house key: %s", KeyHouseLatest("H1"))
	}
	if KeyRoomHistory("A1-01") != "history:A1-01" {
		t.Fatalf("unexpected room key: %s", KeyRoomHistory("A1-01"))
	}
}
