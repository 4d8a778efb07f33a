package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvsbgpd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesKnownFields(t *testing.T) {
	path := writeTemp(t, `
http_addr = "127.0.0.1:3030"
bgp_control_addr = "127.0.0.1:50051"
bgp_discover = false
snapshot_path = "/var/lib/kvsbgpd/snapshot.gob"
reassembler_gc_age = "5m"
reassembler_gc_interval = "1m"
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.HTTPAddr != "127.0.0.1:3030" {
		t.Fatalf("unexpected http addr: %q", f.HTTPAddr)
	}
	if f.GCAge() != 5*time.Minute {
		t.Fatalf("unexpected GC age: %v", f.GCAge())
	}
	if f.GCInterval() != time.Minute {
		t.Fatalf("unexpected GC interval: %v", f.GCInterval())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTemp(t, `bogus_key = "oops"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
