// Package reassembler buffers inbound route fragments, keyed by
// (KeyHash, Version), until a complete pair can be decoded and committed to
// the Store.
package reassembler

import (
	"context"
	"sync"
	"time"

	"github.com/kvsbgp/kvsbgp/internal/codec"
	"github.com/kvsbgp/kvsbgp/internal/store"
)

// DefaultGCAge is the bounded age after which an incomplete assembly is
// discarded.
const DefaultGCAge = 5 * time.Minute

type assemblyKey struct {
	version uint16
	keyHash uint64
}

type assembly struct {
	routes    map[uint16]codec.Route
	firstSeen time.Time
	// n is 0 until the header (seq 0) is known, at which point it is the
	// declared total route count computed from the header's lengths.
	n int
}

func (a *assembly) complete() bool {
	if a.n == 0 {
		return false
	}
	if len(a.routes) != a.n {
		return false
	}
	for seq := 0; seq < a.n; seq++ {
		if _, ok := a.routes[uint16(seq)]; !ok {
			return false
		}
	}
	return true
}

func (a *assembly) orderedRoutes() []codec.Route {
	out := make([]codec.Route, a.n)
	for seq := 0; seq < a.n; seq++ {
		out[seq] = a.routes[uint16(seq)]
	}
	return out
}

// committedEntry records which key a (version, keyHash) pair resolved to
// the last time it was successfully admitted, so a later Withdraw for the
// same (version, keyHash) — arriving after the assembly itself is gone —
// can still resolve the key bytes needed for Store.RemoteWithdraw.
type committedEntry struct {
	key    string
	seenAt time.Time
}

// Reassembler owns its own lock, separate from the Store's: its state is
// owned by the inbound pipeline and touched only there.
type Reassembler struct {
	mu         sync.Mutex
	assemblies map[assemblyKey]*assembly
	committed  map[assemblyKey]committedEntry
	store      store.Store
	gcAge      time.Duration
	now        func() time.Time

	onDiscard func(reason string)
}

// Option configures a Reassembler on construction.
type Option func(*Reassembler)

// WithGCAge overrides DefaultGCAge.
func WithGCAge(age time.Duration) Option {
	return func(r *Reassembler) { r.gcAge = age }
}

// WithClock overrides time.Now, for deterministic GC tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reassembler) { r.now = now }
}

// WithDiscardHandler registers a callback invoked whenever an assembly is
// abandoned (malformed header, length mismatch, key-hash mismatch, or GC).
// It must be fast and non-blocking.
func WithDiscardHandler(fn func(reason string)) Option {
	return func(r *Reassembler) { r.onDiscard = fn }
}

// New creates a Reassembler that commits completed pairs into s.
func New(s store.Store, opts ...Option) *Reassembler {
	r := &Reassembler{
		assemblies: make(map[assemblyKey]*assembly),
		committed:  make(map[assemblyKey]committedEntry),
		store:      s,
		gcAge:      DefaultGCAge,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onDiscard == nil {
		r.onDiscard = func(string) {}
	}
	return r
}

// Admit validates and buffers one inbound route. When admitting this route
// completes its assembly, the pair is decoded and offered to the Store via
// ApplyRemote, and the assembly slot is released regardless of outcome.
//
// Storing a route at an already-occupied seq with different bytes replaces
// the older bytes, since BGP's best-path selection may revise a route
// in-flight.
func (r *Reassembler) Admit(ctx context.Context, route codec.Route) error {
	if !sentinelOK(route) {
		return nil // not a KVS-BGP route, silently dropped
	}

	key := assemblyKey{version: route.Version(), keyHash: route.KeyHash()}
	seq := route.Seq()

	r.mu.Lock()
	a, ok := r.assemblies[key]
	if !ok {
		a = &assembly{routes: make(map[uint16]codec.Route), firstSeen: r.now()}
		r.assemblies[key] = a
	}
	a.routes[seq] = route
	if seq == 0 {
		a.n = headerRouteCount(route)
	}
	ready := a.complete()
	var ordered []codec.Route
	if ready {
		ordered = a.orderedRoutes()
		delete(r.assemblies, key)
	}
	r.mu.Unlock()

	if !ready {
		return nil
	}

	decodedKey, value, version, err := codec.Decode(ordered)
	if err != nil {
		r.onDiscard(err.Error())
		return nil
	}
	adopted, err := r.store.ApplyRemote(ctx, string(decodedKey), value, version)
	if err != nil {
		return err
	}
	if adopted {
		r.mu.Lock()
		r.committed[key] = committedEntry{key: string(decodedKey), seenAt: r.now()}
		r.mu.Unlock()
	}
	return nil
}

// Withdraw removes seq from any matching assembly. If (version, keyHash)
// was already committed to the Store, the committed index resolves the key
// bytes and the pair is withdrawn via WithdrawKey too; a stale or unknown
// withdraw (no matching assembly or committed entry) is a silent no-op.
func (r *Reassembler) Withdraw(ctx context.Context, route codec.Route) error {
	if !sentinelOK(route) {
		return nil
	}
	key := assemblyKey{version: route.Version(), keyHash: route.KeyHash()}
	seq := route.Seq()

	r.mu.Lock()
	if a, ok := r.assemblies[key]; ok {
		delete(a.routes, seq)
		if len(a.routes) == 0 {
			delete(r.assemblies, key)
		}
	}
	committed, ok := r.committed[key]
	r.mu.Unlock()

	if !ok {
		return nil
	}
	_, err := r.WithdrawKey(ctx, committed.key, key.version)
	return err
}

// WithdrawKey retracts key's pair from the Store iff its current version
// still equals version. Withdraw calls this once it has resolved a route's
// key from the committed index; external callers that already know the key
// (e.g. out-of-band, from the Advertiser's mirror) may call it directly.
func (r *Reassembler) WithdrawKey(ctx context.Context, key string, version uint16) (bool, error) {
	return r.store.RemoteWithdraw(ctx, key, version)
}

// GC discards any incomplete assembly whose firstSeen timestamp is older
// than the configured GC age as of now. It is the sole backstop against
// memory growth from partial advertisements.
func (r *Reassembler) GC(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, a := range r.assemblies {
		if now.Sub(a.firstSeen) > r.gcAge {
			delete(r.assemblies, key)
			r.onDiscard("gc: assembly expired")
		}
	}
	for key, c := range r.committed {
		if now.Sub(c.seenAt) > r.gcAge {
			delete(r.committed, key)
		}
	}
}

// Run drives periodic GC on interval until ctx is canceled.
func (r *Reassembler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.GC(r.now())
		}
	}
}

// PendingCount reports the number of in-flight assemblies, for tests and
// metrics.
func (r *Reassembler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assemblies)
}

func sentinelOK(route codec.Route) bool {
	return route.IsSentinel()
}

// headerRouteCount computes n from the header route's declared key/value
// lengths, using the same n = 1 + ceil(max(0, L-8)/12) formula as
// RouteCount.
func headerRouteCount(header codec.Route) int {
	keyLen, valueLen := header.HeaderLengths()
	return codec.RouteCount(keyLen + valueLen)
}
