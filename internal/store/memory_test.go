package store

import (
	"context"
	"testing"
)

func TestMemoryStoreInsertGet(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	version, err := store.Insert(ctx, "k1", []byte("v1"))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected version 0, got %d", version)
	}

	value, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("value mismatch: %v", value)
	}
}

func TestMemoryStoreInsertBumpsVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	if _, err := store.Insert(ctx, "k", []byte("a")); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	version, err := store.Insert(ctx, "k", []byte("b"))
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version 1, got %d", version)
	}
}

func TestMemoryStoreInsertIdempotentNoOp(t *testing.T) {
	var events []Event
	store := NewMemoryStore(func(e Event) { events = append(events, e) })
	ctx := context.Background()

	if _, err := store.Insert(ctx, "k", []byte("same")); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	version, err := store.Insert(ctx, "k", []byte("same"))
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected unchanged version 0, got %d", version)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one Changed event, got %d", len(events))
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	_, _ = store.Insert(ctx, "k", []byte("v"))

	removed, err := store.Remove(ctx, "k")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	if _, err := store.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}

	removed, err = store.Remove(ctx, "k")
	if err != nil || removed {
		t.Fatalf("expected no-op removal of absent key, got removed=%v err=%v", removed, err)
	}
}

func TestMemoryStoreApplyRemoteAcceptsNewerDiscardsOlder(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	ok, err := store.ApplyRemote(ctx, "k", []byte("v5"), 5)
	if err != nil || !ok {
		t.Fatalf("expected acceptance of first remote write, got ok=%v err=%v", ok, err)
	}

	ok, err = store.ApplyRemote(ctx, "k", []byte("v3"), 3)
	if err != nil || ok {
		t.Fatalf("expected stale version 3 to be discarded, got ok=%v err=%v", ok, err)
	}
	value, _ := store.Get(ctx, "k")
	if string(value) != "v5" {
		t.Fatalf("stale write should not have mutated store, got %q", value)
	}

	ok, err = store.ApplyRemote(ctx, "k", []byte("v7"), 7)
	if err != nil || !ok {
		t.Fatalf("expected acceptance of newer version 7, got ok=%v err=%v", ok, err)
	}
	value, _ = store.Get(ctx, "k")
	if string(value) != "v7" {
		t.Fatalf("expected adoption of v7, got %q", value)
	}
}

func TestMemoryStoreApplyRemoteTieRequiresIdenticalValue(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	_, _ = store.ApplyRemote(ctx, "k", []byte("v"), 4)

	ok, err := store.ApplyRemote(ctx, "k", []byte("v"), 4)
	if err != nil || !ok {
		t.Fatalf("expected idempotent tie to be accepted, got ok=%v err=%v", ok, err)
	}

	ok, err = store.ApplyRemote(ctx, "k", []byte("different"), 4)
	if err != nil || ok {
		t.Fatalf("expected conflicting tie to be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreApplyRemoteWrapAround(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	_, _ = store.ApplyRemote(ctx, "k", []byte("old"), 65530)

	ok, err := store.ApplyRemote(ctx, "k", []byte("new"), 3) // wraps past 65535
	if err != nil || !ok {
		t.Fatalf("expected wraparound version to be accepted as newer, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreRemoteWithdrawOnlyCurrentVersion(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	_, _ = store.ApplyRemote(ctx, "k", []byte("v"), 2)
	_, _ = store.ApplyRemote(ctx, "k", []byte("v2"), 3)

	ok, err := store.RemoteWithdraw(ctx, "k", 2) // stale version, no longer current
	if err != nil || ok {
		t.Fatalf("expected withdraw of stale version to be a no-op, got ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("key should still exist: %v", err)
	}

	ok, err = store.RemoteWithdraw(ctx, "k", 3)
	if err != nil || !ok {
		t.Fatalf("expected withdraw of current version to succeed, got ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected key removed, got %v", err)
	}
}

func TestMemoryStoreSnapshotAndRange(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	_, _ = store.Insert(ctx, "k1", []byte("v1"))
	_, _ = store.Insert(ctx, "k2", []byte("v2"))

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snapshot))
	}

	size, err := store.Len(ctx)
	if err != nil || size != 2 {
		t.Fatalf("len mismatch: %d err=%v", size, err)
	}

	seen := map[string]bool{}
	_ = store.Range(ctx, func(key string, record Record) bool {
		seen[key] = true
		return true
	})
	if len(seen) != 2 {
		t.Fatalf("range mismatch: %v", seen)
	}
}

func TestNewerVersionModularSuccessor(t *testing.T) {
	cases := []struct {
		v1, v2 uint16
		want   bool
	}{
		{0, 1, true},
		{1, 0, false},
		{65535, 0, true},  // wraps forward by 1
		{0, 65535, false}, // wraps backward
		{5, 5, false},     // equal is not newer
		{0, 32767, true},  // just inside the forward half
		{0, 32768, false}, // exactly half: treated as not-newer
	}
	for _, c := range cases {
		got := NewerVersion(c.v1, c.v2)
		if got != c.want {
			t.Fatalf("NewerVersion(%d,%d) = %v, want %v", c.v1, c.v2, got, c.want)
		}
	}
}
