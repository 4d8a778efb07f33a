package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kvsbgp/kvsbgp/internal/store"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore(nil)
	if _, err := src.Insert(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := src.Insert(ctx, "k2", []byte("v2")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.gob")
	if err := Save(ctx, src, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := store.NewMemoryStore(nil)
	if err := Load(ctx, dst, path); err != nil {
		t.Fatalf("load: %v", err)
	}
	v, err := dst.Get(ctx, "k1")
	if err != nil || string(v) != "v1" {
		t.Fatalf("k1 not reseeded correctly: %v %q", err, v)
	}
	v, err = dst.Get(ctx, "k2")
	if err != nil || string(v) != "v2" {
		t.Fatalf("k2 not reseeded correctly: %v %q", err, v)
	}
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	ctx := context.Background()
	dst := store.NewMemoryStore(nil)
	if err := Load(ctx, dst, filepath.Join(t.TempDir(), "missing.gob")); err != nil {
		t.Fatalf("expected no error for missing snapshot, got %v", err)
	}
	if n, _ := dst.Len(ctx); n != 0 {
		t.Fatalf("expected empty store, got %d records", n)
	}
}
