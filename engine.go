package kvsbgp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/kvsbgp/kvsbgp/internal/advertiser"
	"github.com/kvsbgp/kvsbgp/internal/codec"
	"github.com/kvsbgp/kvsbgp/internal/httpapi"
	"github.com/kvsbgp/kvsbgp/internal/peer"
	"github.com/kvsbgp/kvsbgp/internal/reassembler"
	"github.com/kvsbgp/kvsbgp/internal/snapshot"
	"github.com/kvsbgp/kvsbgp/internal/store"
)

// Engine is a running KVS-BGP node. It wires the Store, Advertiser,
// Reassembler and Peer Adapter together under the single-writer discipline:
// every write (Insert, Remove, or a remote adoption cascading out of the
// Reassembler) holds the Store's own write lock for the duration of the
// mutation and its resulting Advertiser dispatch, so at most one writer
// touches the Store and the Advertiser's mirror at a time. That dispatch is
// fire-and-forget into the Peer Adapter's bounded outbound queue, so it
// never waits on the network and never holds the Store lock across a round
// trip to the daemon. Reads (Get) take no lock beyond the Store's own
// internal RWMutex and the read lock guarding the Engine's closed flag.
//
// It is safe for concurrent use by multiple goroutines.
type Engine struct {
	cfg Config

	store   store.Store
	adv     *advertiser.Advertiser
	reasm   *reassembler.Reassembler
	adapter *peer.Adapter
	http    *http.Server

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates an Engine with the provided options and starts its
// background loops (Reassembler GC, Peer Adapter session, HTTP server).
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	e.store = store.NewMemoryStore(e.dispatchEvent)

	adapterRef := &adapterHolder{}
	e.adv = advertiser.New(adapterRef)
	e.reasm = reassembler.New(e.store,
		reassembler.WithGCAge(cfg.ReassemblerGCAge),
		reassembler.WithDiscardHandler(func(reason string) {
			cfg.logger.Info("reassembler discarded assembly", "reason", reason)
		}),
	)

	if cfg.PeerDial != nil || cfg.PeerDiscovery != nil {
		var peerOpts []peer.Option
		peerOpts = append(peerOpts, peer.WithErrorHandler(cfg.errorHandler))
		peerOpts = append(peerOpts, peer.WithStateHandler(func(s peer.State) {
			cfg.logger.Info("peer adapter state change", "state", s.String())
		}))
		if cfg.PeerBackoff != nil {
			peerOpts = append(peerOpts, peer.WithBackoff(cfg.PeerBackoff))
		}
		if cfg.PeerDiscovery != nil {
			peerOpts = append(peerOpts, peer.WithDiscovery(cfg.PeerDiscovery))
		}
		e.adapter = peer.New(cfg.PeerDial, e.reasm, e.adv, peerOpts...)
		adapterRef.set(e.adapter)
	}

	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	if cfg.SnapshotPath != "" {
		if err := snapshot.Load(e.runCtx, e.store, cfg.SnapshotPath); err != nil {
			e.runCancel()
			return nil, fmt.Errorf("kvsbgp: load snapshot: %w", err)
		}
	}

	if err := e.adv.Seed(e.runCtx, e.store); err != nil {
		e.runCancel()
		return nil, fmt.Errorf("kvsbgp: seed advertiser: %w", err)
	}

	if cfg.HTTPAddr != "" {
		handler := httpapi.New(e.store, cfg.logger)
		e.http = &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cfg.errorHandler(fmt.Errorf("kvsbgp: http server: %w", err))
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reasm.Run(e.runCtx, cfg.ReassemblerGCInterval)
	}()

	if e.adapter != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.adapter.Run(e.runCtx); err != nil && !errors.Is(err, context.Canceled) {
				cfg.errorHandler(fmt.Errorf("kvsbgp: peer adapter: %w", err))
			}
		}()
	}

	return e, nil
}

// dispatchEvent is the Store's onChange callback. It runs inside the
// Store's own write lock, so the Advertiser's mirror update that results
// (itself independently locked) stays ordered with respect to the mutation
// that produced the event, without requiring the Store to know about the
// Advertiser. The Advertiser's own dispatch to the Peer Adapter is
// fire-and-forget, so this callback returns as soon as the mirror is
// updated and the command is queued, not once it reaches the wire.
func (e *Engine) dispatchEvent(event store.Event) {
	if err := e.adv.HandleEvent(e.runCtx, event); err != nil {
		e.cfg.errorHandler(fmt.Errorf("kvsbgp: advertise: %w", err))
	}
}

// Get returns the current value for key.
func (e *Engine) Get(ctx context.Context, key string) ([]byte, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	value, err := e.store.Get(ctx, key)
	return value, mapStoreErr(err)
}

// Insert stores value under key, returning the resulting version.
func (e *Engine) Insert(ctx context.Context, key string, value []byte) (uint16, error) {
	if err := e.check(ctx); err != nil {
		return 0, err
	}
	if _, err := codec.Encode([]byte(key), value, 0); err != nil {
		return 0, err
	}
	version, err := e.store.Insert(ctx, key, value)
	return version, mapStoreErr(err)
}

// Remove deletes key if present.
func (e *Engine) Remove(ctx context.Context, key string) (bool, error) {
	if err := e.check(ctx); err != nil {
		return false, err
	}
	ok, err := e.store.Remove(ctx, key)
	return ok, mapStoreErr(err)
}

// Close stops background loops and releases resources.
func (e *Engine) Close(ctx context.Context) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	e.runCancel()
	if e.http != nil {
		_ = e.http.Shutdown(ctx)
	}
	e.wg.Wait()

	if e.cfg.SnapshotPath != "" {
		if err := snapshot.Save(ctx, e.store, e.cfg.SnapshotPath); err != nil {
			e.cfg.errorHandler(fmt.Errorf("kvsbgp: save snapshot on close: %w", err))
		}
	}

	return mapStoreErr(e.store.Close())
}

func (e *Engine) check(ctx context.Context) error {
	if err := mapContextErr(ctx); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func mapContextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		if errors.Is(err, context.Canceled) {
			return ErrCanceled
		}
		return err
	}
	return nil
}

func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// adapterHolder lets the Advertiser be constructed before the Peer Adapter
// exists (the Adapter itself depends on the Advertiser for its startup
// replay), deferring to whichever *peer.Adapter is set once it is created.
// When no Peer Adapter is configured (e.g. a local-only deployment),
// commands are accepted and silently dropped.
type adapterHolder struct {
	mu      sync.RWMutex
	adapter *peer.Adapter
}

func (h *adapterHolder) set(a *peer.Adapter) {
	h.mu.Lock()
	h.adapter = a
	h.mu.Unlock()
}

func (h *adapterHolder) Announce(ctx context.Context, cmd advertiser.Command) error {
	h.mu.RLock()
	a := h.adapter
	h.mu.RUnlock()
	if a == nil {
		return nil
	}
	return a.Announce(ctx, cmd)
}

func (h *adapterHolder) Withdraw(ctx context.Context, cmd advertiser.Command) error {
	h.mu.RLock()
	a := h.adapter
	h.mu.RUnlock()
	if a == nil {
		return nil
	}
	return a.Withdraw(ctx, cmd)
}
