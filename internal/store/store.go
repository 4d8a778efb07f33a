// Package store implements the authoritative in-memory map of Key ->
// (Value, Version), with change notification used to drive outbound
// advertisement.
package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates that the requested key is missing.
var ErrNotFound = errors.New("store: key not found")

// EventKind distinguishes the two notifications a Store can emit.
type EventKind int

const (
	// Changed fires when a key's (value, version) was inserted or adopted.
	Changed EventKind = iota
	// Removed fires when a key's pair was deleted.
	Removed
)

// Event is delivered synchronously, inside the Store's write lock, for
// every actual mutation (never for no-ops). OldVersion is valid only when
// HasOld is true, i.e. when the key already held a value.
type Event struct {
	Kind       EventKind
	Key        string
	Value      []byte
	Version    uint16
	OldVersion uint16
	HasOld     bool
}

// Record is a key's current (value, version) pair.
type Record struct {
	Value   []byte
	Version uint16
}

// Store provides the CRUD and remote-adoption operations over the Key ->
// (Value, Version) map. Implementations must serialize mutations so that at
// most one Event fires per call and readers never observe a torn write.
type Store interface {
	// Get returns the current value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Insert stores value under key, bumping the version, and returns the
	// resulting version. A byte-identical re-insert is a no-op that returns
	// the unchanged current version.
	Insert(ctx context.Context, key string, value []byte) (uint16, error)
	// Remove deletes key if present, returning false if it was absent.
	Remove(ctx context.Context, key string) (bool, error)
	// ApplyRemote admits a pair decoded from the wire. It is accepted iff
	// the key is absent, or version is strictly newer under
	// modular-successor comparison, or version ties with a byte-identical
	// value. A strictly older version is silently discarded (ok=false).
	ApplyRemote(ctx context.Context, key string, value []byte, version uint16) (ok bool, err error)
	// RemoteWithdraw removes key only if its current version still equals
	// version, i.e. the retracted route belonged to the currently winning
	// version.
	RemoteWithdraw(ctx context.Context, key string, version uint16) (ok bool, err error)
	// Snapshot returns a point-in-time copy of all records.
	Snapshot(ctx context.Context) (map[string]Record, error)
	// Len returns the number of stored records.
	Len(ctx context.Context) (int, error)
	// Range iterates over all records until fn returns false. fn MUST NOT
	// call mutating Store methods, or it can deadlock.
	Range(ctx context.Context, fn func(key string, record Record) bool) error
	Close() error
}

// NewerVersion reports whether v2 is strictly newer than v1 under modular-
// successor comparison: newer = (v2-v1) mod 2^16 in [1, 2^15).
func NewerVersion(v1, v2 uint16) bool {
	delta := v2 - v1
	return delta >= 1 && delta < 1<<15
}
