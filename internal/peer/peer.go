// Package peer implements the thin boundary between the core and an
// external BGP daemon's local control channel: an outbound command queue
// drained by a writer goroutine, and an inbound reader goroutine, speaking
// JSON frames over a single persistent connection.
package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kvsbgp/kvsbgp/internal/advertiser"
	"github.com/kvsbgp/kvsbgp/internal/codec"
	"github.com/kvsbgp/kvsbgp/internal/reassembler"
)

var errInvalidFrame = errors.New("peer: invalid control-channel frame")

// State is the Peer Adapter's session lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Established
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	default:
		return "disconnected"
	}
}

// Dialer opens the control-channel connection. In production this is
// net.Dialer.DialContext against the daemon's local socket; tests supply an
// in-memory net.Pipe.
type Dialer func(ctx context.Context) (net.Conn, error)

// Adapter connects the core to an external BGP daemon's control channel.
type Adapter struct {
	dial     Dialer
	resolve  func(ctx context.Context) (string, error) // mDNS fallback, may be nil
	reasm    *reassembler.Reassembler
	onError  func(error)
	onState  func(State)
	backoff  backoff.BackOff
	outbound chan outboundCmd

	mu    sync.Mutex
	state State
	conn  net.Conn

	advertiser *advertiser.Advertiser
}

type outboundCmd struct {
	kind  frameKind
	route codec.Route
	comm  *string
}

// Option configures an Adapter on construction.
type Option func(*Adapter)

// WithErrorHandler registers a best-effort, non-blocking error callback.
func WithErrorHandler(fn func(error)) Option {
	return func(a *Adapter) { a.onError = fn }
}

// WithStateHandler registers a callback invoked on every state transition.
func WithStateHandler(fn func(State)) Option {
	return func(a *Adapter) { a.onState = fn }
}

// WithBackoff overrides the default exponential backoff used between
// reconnect attempts.
func WithBackoff(b backoff.BackOff) Option {
	return func(a *Adapter) { a.backoff = b }
}

// WithDiscovery sets a fallback resolver (e.g. mDNS) used to find the
// daemon's control-channel address when no static Dialer target is
// configured up front. See internal/discovery.
func WithDiscovery(resolve func(ctx context.Context) (string, error)) Option {
	return func(a *Adapter) { a.resolve = resolve }
}

// New creates an Adapter that dials the control channel with dial, hands
// admitted/withdrawn routes to reasm, and replays adv's mirror on entering
// Established.
func New(dial Dialer, reasm *reassembler.Reassembler, adv *advertiser.Advertiser, opts ...Option) *Adapter {
	a := &Adapter{
		dial:       dial,
		reasm:      reasm,
		advertiser: adv,
		outbound:   make(chan outboundCmd, 256),
		backoff:    backoff.NewExponentialBackOff(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.onError == nil {
		a.onError = func(error) {}
	}
	if a.onState == nil {
		a.onState = func(State) {}
	}
	return a
}

// Announce implements advertiser.PeerAdapter.
func (a *Adapter) Announce(ctx context.Context, cmd advertiser.Command) error {
	return a.enqueue(ctx, frameAnnounce, cmd)
}

// Withdraw implements advertiser.PeerAdapter.
func (a *Adapter) Withdraw(ctx context.Context, cmd advertiser.Command) error {
	return a.enqueue(ctx, frameWithdraw, cmd)
}

// enqueue is fire-and-forget: it returns as soon as the command is accepted
// onto the bounded outbound queue (or immediately, doing nothing, if there
// is no live session), never waiting on the network round trip. Delivery
// failures and disconnects are handled by retrying from the Advertiser's
// mirror on the next Established, not by this call blocking or retrying
// itself — so a caller holding the Store's write lock around this call
// never stalls behind a slow or absent peer.
func (a *Adapter) enqueue(ctx context.Context, kind frameKind, cmd advertiser.Command) error {
	if a.State() != Established {
		return nil
	}
	select {
	case a.outbound <- outboundCmd{kind: kind, route: cmd.Route, comm: cmd.Community}:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Queue is momentarily full; drop rather than block. The mirror
		// carries the authoritative state and is replayed in full on the
		// next Established, so this command is not lost, only delayed.
	}
	return nil
}

// State reports the adapter's current session state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run drives the connect/reconnect loop until ctx is canceled. On each
// successful connection it starts a reader and writer goroutine, triggers
// the Advertiser's startup replay, and blocks until the connection is lost,
// then retries with backoff.
func (a *Adapter) Run(ctx context.Context) error {
	b := backoffWithContext(a.backoff, ctx)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.setState(Connecting)
		conn, err := a.connect(ctx)
		if err != nil {
			a.onError(fmt.Errorf("peer: connect: %w", err))
			d := b.NextBackOff()
			if d == backoff.Stop {
				return err
			}
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		b.Reset()

		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		a.setState(Established)

		if err := a.advertiser.Reannounce(ctx); err != nil {
			a.onError(fmt.Errorf("peer: reannounce: %w", err))
		}

		sessionErr := a.runSession(ctx, conn)
		_ = conn.Close()
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		a.setState(Disconnected)
		a.drainOutbound()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.onError(fmt.Errorf("peer: session ended: %w", sessionErr))
	}
}

func (a *Adapter) connect(ctx context.Context) (net.Conn, error) {
	if a.dial != nil {
		return a.dial(ctx)
	}
	if a.resolve == nil {
		return nil, errors.New("peer: no dialer or discovery configured")
	}
	addr, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// runSession pumps the reader and writer for one live connection. It
// returns when the connection fails or ctx is canceled. Any commands still
// sitting in the outbound queue at that point are stale — Run discards them
// with drainOutbound as soon as the session ends, and the Reannounce on the
// next Established repopulates the queue from the Advertiser's mirror.
func (a *Adapter) runSession(ctx context.Context, conn net.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- a.readLoop(sessionCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- a.writeLoop(sessionCtx, conn)
	}()

	err := <-errCh
	cancel()
	wg.Wait()
	return err
}

func (a *Adapter) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kind, route, err := decodeFrame(scanner.Bytes())
		if err != nil {
			a.onError(fmt.Errorf("peer: decode frame: %w", err))
			continue
		}
		if !route.IsSentinel() {
			continue // not a KVS-BGP route, silently dropped
		}
		switch kind {
		case frameUpdate:
			if err := a.reasm.Admit(ctx, route); err != nil {
				a.onError(fmt.Errorf("peer: admit: %w", err))
			}
		case frameWithdraw:
			if err := a.reasm.Withdraw(ctx, route); err != nil {
				a.onError(fmt.Errorf("peer: withdraw: %w", err))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("peer: control channel closed by daemon")
}

func (a *Adapter) writeLoop(ctx context.Context, conn net.Conn) error {
	w := bufio.NewWriter(conn)
	for {
		select {
		case cmd := <-a.outbound:
			data, err := encodeFrame(cmd.kind, cmd.route, cmd.comm)
			if err != nil {
				a.onError(fmt.Errorf("peer: encode frame: %w", err))
				continue
			}
			data = append(data, '\n')
			if _, err := w.Write(data); err != nil {
				return errPeerDisconnected(err)
			}
			if err := w.Flush(); err != nil {
				return errPeerDisconnected(err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainOutbound discards any commands left in the outbound queue from the
// connection that just ended, so a stale announce/withdraw from a prior
// session can't be delivered out of order under a future one. The next
// Reannounce (on re-entering Established) repopulates the queue from the
// Advertiser's mirror, which is authoritative.
func (a *Adapter) drainOutbound() {
	for {
		select {
		case <-a.outbound:
		default:
			return
		}
	}
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.onState(s)
}

// ErrPeerDisconnected wraps any transport error observed while delivering
// an outbound command.
var ErrPeerDisconnected = errors.New("peer: disconnected")

func errPeerDisconnected(cause error) error {
	return fmt.Errorf("%w: %v", ErrPeerDisconnected, cause)
}

// backoffWithContext is a tiny adapter so callers can still call
// NextBackOff()/Reset() without importing backoff.WithContext's tick
// channel machinery, keeping the reconnect loop symmetric with the
// teacher's own hand-rolled ticker loops.
func backoffWithContext(b backoff.BackOff, ctx context.Context) backoff.BackOff {
	return backoff.WithContext(b, ctx)
}
