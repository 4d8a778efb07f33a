// Package kvsbgp provides an embedded, BGP-replicated key/value store.
//
// # Overview
//
// KVS-BGP is a distributed, eventually-consistent key/value store that
// piggybacks its replication onto the Border Gateway Protocol. Each
// key/value pair is serialized into a set of IPv6 /128 unicast routes
// and advertised to a cooperating BGP speaker; peers receiving the
// advertisements decode the routes back into pairs. BGP's flood-and-
// converge semantics and route persistence provide replication and
// durability "for free" so long as at least one peer remains online.
//
// # Data model
//
// Records are versioned using a 16-bit modular-successor counter per
// key and merged last-writer-wins: a received version is adopted only
// if it is strictly newer than, or byte-identical to, the version
// currently held.
//
// # Architecture
//
// An Engine wires together the five core components: the Codec
// (internal/codec) packs and unpacks (key, value, version) triples
// into route sets; the Store (internal/store) holds the authoritative
// map and emits change events; the Reassembler (internal/reassembler)
// buffers inbound route fragments until a full pair can be decoded;
// the Advertiser (internal/advertiser) turns Store events into
// announce/withdraw commands and mirrors what has been sent; and the
// Peer Adapter (internal/peer) is the thin boundary to an external BGP
// daemon's local control channel.
//
// # Networking
//
// The Engine itself does not open a BGP session. It is driven by a
// peer.Adapter, which connects to a daemon such as ExaBGP or GoBGP over
// a JSON control channel, reached at a static address or, when mDNS
// discovery is configured instead, discovered via internal/discovery.
//
// # Serialization
//
// Keys and values are opaque byte strings; no value codec is involved.
// An optional snapshot codec (internal/snapshot) persists the Store's
// contents across restarts using encoding/gob.
//
// Example
//
//	engine, err := kvsbgp.New(
//		kvsbgp.WithHTTPAddr("127.0.0.1:3030"),
//		kvsbgp.WithPeerDialer(dialer),
//	)
//	if err != nil {
//		// handle error
//	}
//	defer engine.Close(context.Background())
//	_, _ = engine.Insert(context.Background(), "key", []byte("value"))
package kvsbgp
