package kvsbgp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kvsbgp/kvsbgp/internal/peer"
	"github.com/kvsbgp/kvsbgp/internal/reassembler"
)

// Option configures the Engine on creation.
// Return an error to reject an invalid option value.
type Option func(*Config) error

// Config holds runtime configuration for a kvsbgp Engine. Users typically
// set it via Option helpers, or load one from a TOML file with
// internal/config and pass its fields through WithHTTPAddr etc.
type Config struct {
	HTTPAddr string

	PeerDial      peer.Dialer
	PeerDiscovery func(ctx context.Context) (string, error)
	PeerBackoff   backoff.BackOff

	ReassemblerGCAge      time.Duration
	ReassemblerGCInterval time.Duration

	SnapshotPath string

	logger       *slog.Logger
	errorHandler func(error)
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:              "127.0.0.1:3030",
		ReassemblerGCAge:      reassembler.DefaultGCAge,
		ReassemblerGCInterval: time.Minute,
	}
}

func (c *Config) finalize() error {
	if c.HTTPAddr != "" {
		if err := validateAddr(c.HTTPAddr); err != nil {
			return err
		}
	}
	if c.ReassemblerGCAge <= 0 {
		return fmt.Errorf("kvsbgp: reassembler GC age must be positive")
	}
	if c.ReassemblerGCInterval <= 0 {
		return fmt.Errorf("kvsbgp: reassembler GC interval must be positive")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.errorHandler == nil {
		c.errorHandler = func(error) {}
	}
	return nil
}

// WithHTTPAddr sets the local bind address for the HTTP CRUD surface.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return fmt.Errorf("kvsbgp: http addr cannot be empty")
		}
		if err := validateAddr(addr); err != nil {
			return err
		}
		c.HTTPAddr = addr
		return nil
	}
}

// WithPeerDialer sets the Dialer the Peer Adapter uses to reach the BGP
// daemon's control channel.
func WithPeerDialer(dial peer.Dialer) Option {
	return func(c *Config) error {
		if dial == nil {
			return fmt.Errorf("kvsbgp: peer dialer cannot be nil")
		}
		c.PeerDial = dial
		return nil
	}
}

// WithPeerDiscovery sets a fallback resolver (e.g. internal/discovery's
// mDNS Resolver.Resolve) used to find the daemon's control-channel address
// when WithPeerDialer is not given a static target.
func WithPeerDiscovery(resolve func(ctx context.Context) (string, error)) Option {
	return func(c *Config) error {
		if resolve == nil {
			return fmt.Errorf("kvsbgp: peer discovery resolver cannot be nil")
		}
		c.PeerDiscovery = resolve
		return nil
	}
}

// WithReconnectBackoff overrides the default exponential backoff used
// between Peer Adapter reconnect attempts.
func WithReconnectBackoff(b backoff.BackOff) Option {
	return func(c *Config) error {
		if b == nil {
			return fmt.Errorf("kvsbgp: backoff cannot be nil")
		}
		c.PeerBackoff = b
		return nil
	}
}

// WithReassemblerGCAge overrides the bounded age after which an incomplete
// assembly is discarded.
func WithReassemblerGCAge(age time.Duration) Option {
	return func(c *Config) error {
		if age <= 0 {
			return fmt.Errorf("kvsbgp: reassembler GC age must be positive")
		}
		c.ReassemblerGCAge = age
		return nil
	}
}

// WithReassemblerGCInterval overrides how often GC sweeps run.
func WithReassemblerGCInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return fmt.Errorf("kvsbgp: reassembler GC interval must be positive")
		}
		c.ReassemblerGCInterval = interval
		return nil
	}
}

// WithSnapshotPath enables persistence of the Store's contents to the given
// path: the file is loaded by New and written by Close, and is re-seeded on
// the next New call against the same path.
func WithSnapshotPath(path string) Option {
	return func(c *Config) error {
		c.SnapshotPath = path
		return nil
	}
}

// WithLogger sets the structured logger used throughout the Engine. If
// omitted, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("kvsbgp: logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithErrorHandler sets a callback for internal errors (decode failures,
// transport errors). It is best-effort and must be fast and non-blocking.
func WithErrorHandler(handler func(error)) Option {
	return func(c *Config) error {
		if handler == nil {
			return fmt.Errorf("kvsbgp: error handler cannot be nil")
		}
		c.errorHandler = handler
		return nil
	}
}

func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("kvsbgp: invalid address %q: %w", addr, err)
	}
	return nil
}
