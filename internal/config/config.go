// Package config loads the external, TOML-encoded deployment configuration:
// HTTP bind address, BGP daemon endpoint, optional persistence path, and
// Reassembler GC timing. It is a thin adapter between a config file on disk
// and the kvsbgp.Option values New expects.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// File is the on-disk shape of a kvsbgpd TOML config file.
type File struct {
	HTTPAddr string `toml:"http_addr"`

	BGPControlAddr string `toml:"bgp_control_addr"`
	BGPDiscover    bool   `toml:"bgp_discover"`

	SnapshotPath string `toml:"snapshot_path"`

	ReassemblerGCAge      duration `toml:"reassembler_gc_age"`
	ReassemblerGCInterval duration `toml:"reassembler_gc_interval"`
}

// duration parses TOML string values like "5m" via time.ParseDuration,
// since BurntSushi/toml has no native duration type.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

// Load parses the TOML file at path.
func Load(path string) (File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return File{}, fmt.Errorf("config: %s: unknown keys %v", path, undecoded)
	}
	return f, nil
}

// GCAge returns the configured Reassembler GC age as a time.Duration, or
// zero if unset.
func (f File) GCAge() time.Duration { return time.Duration(f.ReassemblerGCAge) }

// GCInterval returns the configured Reassembler GC sweep interval, or zero
// if unset.
func (f File) GCInterval() time.Duration { return time.Duration(f.ReassemblerGCInterval) }
