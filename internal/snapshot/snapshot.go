// Package snapshot persists a Store's contents to disk with encoding/gob,
// as an optional local recovery aid so a restarted node doesn't have to
// wait for a full BGP re-convergence to recover its own prior writes. The
// wire codec and replication protocol are unaffected.
package snapshot

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/kvsbgp/kvsbgp/internal/store"
)

// record is the gob-serializable form of one store.Record, since
// store.Record's Value is a []byte and gob handles that natively but we
// pin the shape here so internal/store can change independently.
type record struct {
	Key     string
	Value   []byte
	Version uint16
}

// Save writes s's current contents to path, replacing any existing file
// atomically via a temp-file rename.
func Save(ctx context.Context, s store.Store, path string) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: read store: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tmp)

	records := make([]record, 0, len(snap))
	for key, rec := range snap {
		records = append(records, record{Key: key, Value: rec.Value, Version: rec.Version})
	}

	enc := gob.NewEncoder(f)
	if err := enc.Encode(records); err != nil {
		f.Close()
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return nil
}

// Load reads a snapshot file and reseeds it into s via ApplyRemote, so
// normal version-comparison rules govern adoption (a snapshot is just
// another source of remote pairs, from the node's own prior self).
func Load(ctx context.Context, s store.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("snapshot: open: %w", err)
	}
	defer f.Close()

	var records []record
	dec := gob.NewDecoder(f)
	if err := dec.Decode(&records); err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	for _, rec := range records {
		if _, err := s.ApplyRemote(ctx, rec.Key, rec.Value, rec.Version); err != nil {
			return fmt.Errorf("snapshot: reseed %q: %w", rec.Key, err)
		}
	}
	return nil
}
