package advertiser

import (
	"context"
	"testing"

	"github.com/kvsbgp/kvsbgp/internal/codec"
	"github.com/kvsbgp/kvsbgp/internal/store"
)

type recordingPeer struct {
	announced []codec.Route
	withdrawn []codec.Route
	commands  []Command
}

func (p *recordingPeer) Announce(_ context.Context, cmd Command) error {
	p.announced = append(p.announced, cmd.Route)
	p.commands = append(p.commands, cmd)
	return nil
}

func (p *recordingPeer) Withdraw(_ context.Context, cmd Command) error {
	p.withdrawn = append(p.withdrawn, cmd.Route)
	p.commands = append(p.commands, cmd)
	return nil
}

func TestHandleChangeNewKeyOnlyAnnounces(t *testing.T) {
	peer := &recordingPeer{}
	adv := New(peer)
	ctx := context.Background()

	event := store.Event{Kind: store.Changed, Key: "k", Value: []byte("a"), Version: 0}
	if err := adv.HandleChange(ctx, event); err != nil {
		t.Fatalf("handle change: %v", err)
	}
	if len(peer.announced) != 1 || len(peer.withdrawn) != 0 {
		t.Fatalf("expected 1 announce, 0 withdraw; got %d/%d", len(peer.announced), len(peer.withdrawn))
	}
}

func TestHandleChangeVersionBumpAnnouncesThenWithdraws(t *testing.T) {
	peer := &recordingPeer{}
	adv := New(peer)
	ctx := context.Background()

	if err := adv.HandleChange(ctx, store.Event{Kind: store.Changed, Key: "k", Value: []byte("a"), Version: 0}); err != nil {
		t.Fatalf("first change: %v", err)
	}
	peer.announced = nil

	event := store.Event{Kind: store.Changed, Key: "k", Value: []byte("b"), Version: 1, OldVersion: 0, HasOld: true}
	if err := adv.HandleChange(ctx, event); err != nil {
		t.Fatalf("second change: %v", err)
	}

	if len(peer.announced) != 1 {
		t.Fatalf("expected 1 announce for version 1, got %d", len(peer.announced))
	}
	if len(peer.withdrawn) != 1 {
		t.Fatalf("expected 1 withdraw for version 0, got %d", len(peer.withdrawn))
	}
	if peer.announced[0].Version() != 1 {
		t.Fatalf("announce should carry new version")
	}
	if peer.withdrawn[0].Version() != 0 {
		t.Fatalf("withdraw should carry old version")
	}
	n := len(peer.commands)
	if n < 2 || peer.commands[n-2].Route.Version() != 1 || peer.commands[n-1].Route.Version() != 0 {
		t.Fatalf("expected the version-1 announce before the version-0 withdraw")
	}
}

func TestHandleRemovedWithdrawsMirroredRoutesThenDropsMapping(t *testing.T) {
	peer := &recordingPeer{}
	adv := New(peer)
	ctx := context.Background()

	_ = adv.HandleChange(ctx, store.Event{Kind: store.Changed, Key: "k", Value: []byte("abc"), Version: 0})
	wantRoutes := len(peer.announced)

	if err := adv.HandleRemoved(ctx, store.Event{Kind: store.Removed, Key: "k", Version: 0}); err != nil {
		t.Fatalf("handle removed: %v", err)
	}
	if len(peer.withdrawn) != wantRoutes {
		t.Fatalf("expected %d withdraws matching mirrored set, got %d", wantRoutes, len(peer.withdrawn))
	}
	if _, _, ok := adv.Mirrored("k"); ok {
		t.Fatalf("mirror entry should be dropped after removal")
	}

	// Removing again (e.g. a duplicate event) must not re-withdraw.
	peer.withdrawn = nil
	if err := adv.HandleRemoved(ctx, store.Event{Kind: store.Removed, Key: "k", Version: 0}); err != nil {
		t.Fatalf("handle removed again: %v", err)
	}
	if len(peer.withdrawn) != 0 {
		t.Fatalf("expected no withdraw for already-dropped key")
	}
}

func TestReannounceReplaysMirror(t *testing.T) {
	peer := &recordingPeer{}
	adv := New(peer)
	ctx := context.Background()
	_ = adv.HandleChange(ctx, store.Event{Kind: store.Changed, Key: "k", Value: []byte("abc"), Version: 0})
	firstCount := len(peer.announced)

	peer.announced = nil
	if err := adv.Reannounce(ctx); err != nil {
		t.Fatalf("reannounce: %v", err)
	}
	if len(peer.announced) != firstCount {
		t.Fatalf("expected reannounce to replay %d routes, got %d", firstCount, len(peer.announced))
	}
}

func TestSeedFromStoreSnapshotBuildsMirrorWithoutCommands(t *testing.T) {
	peer := &recordingPeer{}
	adv := New(peer)
	ctx := context.Background()

	st := store.NewMemoryStore(nil)
	_, _ = st.Insert(ctx, "k1", []byte("v1"))
	_, _ = st.Insert(ctx, "k2", []byte("v2"))

	if err := adv.Seed(ctx, st); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(peer.announced) != 0 {
		t.Fatalf("seed must not emit commands, got %d", len(peer.announced))
	}
	if _, _, ok := adv.Mirrored("k1"); !ok {
		t.Fatalf("expected k1 in mirror after seed")
	}

	if err := adv.Reannounce(ctx); err != nil {
		t.Fatalf("reannounce after seed: %v", err)
	}
	if len(peer.announced) == 0 {
		t.Fatalf("expected reannounce after seed to emit commands")
	}
}

func TestCommunityDerivedFromCategoryPrefix(t *testing.T) {
	peer := &recordingPeer{}
	adv := New(peer)
	ctx := context.Background()

	event := store.Event{Kind: store.Changed, Key: "users::alice", Value: []byte("v"), Version: 0}
	if err := adv.HandleChange(ctx, event); err != nil {
		t.Fatalf("handle change: %v", err)
	}
	if len(peer.announced) == 0 {
		t.Fatalf("expected announces")
	}
	for _, cmd := range peer.commands {
		if cmd.Community == nil || *cmd.Community != "users" {
			t.Fatalf("expected community %q, got %v", "users", cmd.Community)
		}
	}
}
