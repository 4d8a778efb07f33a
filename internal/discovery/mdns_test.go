package discovery

import "testing"

func TestNewResolverDefaultsDomain(t *testing.T) {
	r := NewResolver("")
	if r.domain != "local." {
		t.Fatalf("expected default domain local., got %q", r.domain)
	}
}

func TestNewResolverHonorsExplicitDomain(t *testing.T) {
	r := NewResolver("example.com.")
	if r.domain != "example.com." {
		t.Fatalf("expected explicit domain preserved, got %q", r.domain)
	}
}

func TestAnnounceRejectsInvalidBindAddr(t *testing.T) {
	if _, err := Announce("node-1", "not-a-valid-addr"); err == nil {
		t.Fatal("expected error for invalid bind address")
	}
}
