// Package advertiser reflects local Store state into outbound BGP
// advertisements, and keeps the set of currently-advertised routes so they
// can be withdrawn correctly and replayed on restart.
package advertiser

import (
	"context"
	"strings"
	"sync"

	"github.com/kvsbgp/kvsbgp/internal/codec"
	"github.com/kvsbgp/kvsbgp/internal/store"
)

// Command is one announce or withdraw instruction delivered to a
// PeerAdapter. Community is an optional tag carried alongside the route; it
// has no effect on encoding.
type Command struct {
	Route     codec.Route
	Community *string
}

// PeerAdapter is the boundary the Advertiser emits commands to. The real
// implementation lives in internal/peer; this interface lets the Advertiser
// be tested without a live BGP daemon.
type PeerAdapter interface {
	Announce(ctx context.Context, cmd Command) error
	Withdraw(ctx context.Context, cmd Command) error
}

type advertisedSet struct {
	version uint16
	routes  []codec.Route
}

// Advertiser reacts to Store events by announcing or withdrawing the
// corresponding routes, keeping a mirror of what is currently advertised so
// replays and withdrawals stay correct across reconnects.
type Advertiser struct {
	mu     sync.Mutex
	mirror map[string]advertisedSet
	peer   PeerAdapter
}

// New creates an Advertiser that sends commands to peer.
func New(peer PeerAdapter) *Advertiser {
	return &Advertiser{
		mirror: make(map[string]advertisedSet),
		peer:   peer,
	}
}

// HandleChange reacts to a Store Changed event: encode the new route set,
// announce every new route in seq order, then (if oldVersion existed)
// withdraw every route of the previous set — after all new announces, so
// peers always see overlap rather than a gap.
func (a *Advertiser) HandleChange(ctx context.Context, event store.Event) error {
	if event.Kind != store.Changed {
		return nil
	}
	newRoutes, err := codec.Encode([]byte(event.Key), event.Value, event.Version)
	if err != nil {
		return err
	}
	community := communityOf(event.Key)

	a.mu.Lock()
	old, hadOld := a.mirror[event.Key]
	a.mirror[event.Key] = advertisedSet{version: event.Version, routes: newRoutes}
	a.mu.Unlock()

	for _, route := range newRoutes {
		if err := a.peer.Announce(ctx, Command{Route: route, Community: community}); err != nil {
			return err
		}
	}

	if event.HasOld && hadOld && old.version != event.Version {
		for _, route := range old.routes {
			if err := a.peer.Withdraw(ctx, Command{Route: route, Community: community}); err != nil {
				return err
			}
		}
	}
	return nil
}

// HandleRemoved reacts to a Store Removed event: withdraw every mirrored
// route for key, then drop the mapping.
func (a *Advertiser) HandleRemoved(ctx context.Context, event store.Event) error {
	if event.Kind != store.Removed {
		return nil
	}
	a.mu.Lock()
	set, ok := a.mirror[event.Key]
	delete(a.mirror, event.Key)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	community := communityOf(event.Key)
	for _, route := range set.routes {
		if err := a.peer.Withdraw(ctx, Command{Route: route, Community: community}); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent dispatches to HandleChange or HandleRemoved by event kind,
// for callers (typically an Engine) wiring Store events directly.
func (a *Advertiser) HandleEvent(ctx context.Context, event store.Event) error {
	switch event.Kind {
	case store.Changed:
		return a.HandleChange(ctx, event)
	case store.Removed:
		return a.HandleRemoved(ctx, event)
	default:
		return nil
	}
}

// Reannounce replays every mirrored route set, in key order of no
// particular guarantee but with each set's own routes in seq order. BGP's
// expectation of idempotent advertisement makes this safe to call whenever
// the Peer Adapter reports it has (re)entered the Established state.
func (a *Advertiser) Reannounce(ctx context.Context) error {
	a.mu.Lock()
	sets := make(map[string]advertisedSet, len(a.mirror))
	for k, v := range a.mirror {
		sets[k] = v
	}
	a.mu.Unlock()

	for key, set := range sets {
		community := communityOf(key)
		for _, route := range set.routes {
			if err := a.peer.Announce(ctx, Command{Route: route, Community: community}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Seed rebuilds the mirror from a Store snapshot without emitting any
// commands, used on startup before Reannounce — the Store may itself have
// been seeded from a persisted snapshot.
func (a *Advertiser) Seed(ctx context.Context, s store.Store) error {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, record := range snapshot {
		routes, err := codec.Encode([]byte(key), record.Value, record.Version)
		if err != nil {
			return err
		}
		a.mirror[key] = advertisedSet{version: record.Version, routes: routes}
	}
	return nil
}

// Mirrored reports the route set currently advertised for key, for tests
// and diagnostics.
func (a *Advertiser) Mirrored(key string) (version uint16, routes []codec.Route, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.mirror[key]
	return set.version, set.routes, ok
}

// communityOf extracts the category prefix of a key (the substring before
// "::") as the optional community tag, or nil if the key has no category
// separator.
func communityOf(key string) *string {
	if idx := strings.Index(key, "::"); idx >= 0 {
		category := key[:idx]
		return &category
	}
	return nil
}
