// Package codec implements the deterministic, byte-exact mapping between a
// (key, value, version) pair and the ordered sequence of IPv6 /128 routes
// that carry it over BGP.
//
// Encoding/decoding is pure: it depends only on its inputs and performs no
// I/O. All multi-byte fields are big-endian, matching IPv6 address byte
// order.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/dgryski/go-farm"
)

// Sentinel is the fixed field-0 value, in both Prefix and NextHop, that
// marks a route as belonging to KVS-BGP rather than an arbitrary peer
// route.
const Sentinel uint16 = 0xBF51

// headerPayloadLen is the number of payload bytes the header route (seq 0)
// carries after its length fields; continuationPayloadLen is the number of
// payload bytes every subsequent route carries.
const (
	headerPayloadLen       = 8
	continuationPayloadLen = 12
)

// MaxRoutes is the largest number of routes a single pair may occupy; it
// bounds the 16-bit sequence field.
const MaxRoutes = 65535

// MaxPayloadLen is the (key length + value length) bound implied by
// MaxRoutes: 8 + 12*(MaxRoutes-1) bytes. Encode also limits the key and the
// value to 0xFFFF bytes each, so the largest payload it accepts is
// 2*0xFFFF bytes, well under this bound.
const MaxPayloadLen = headerPayloadLen + continuationPayloadLen*(MaxRoutes-1)

var (
	// ErrOversize is returned by Encode when the key or the value exceeds
	// 0xFFFF bytes, or key+value exceeds MaxPayloadLen.
	ErrOversize = errors.New("codec: payload exceeds maximum size")
	// ErrMalformedHeader is returned by Decode when the seq=0 route is missing.
	ErrMalformedHeader = errors.New("codec: missing header route (seq 0)")
	// ErrLengthMismatch is returned by Decode when declared lengths don't fit
	// the carried bytes, or a route's seq is out of the contiguous [0,n) range.
	ErrLengthMismatch = errors.New("codec: declared length does not match carried bytes")
	// ErrKeyHashMismatch is returned by Decode when the NextHop KeyHash does
	// not match the hash of the decoded key bytes.
	ErrKeyHashMismatch = errors.New("codec: key hash mismatch")
)

// Prefix is an IPv6 /128 address carrying packed Pair bytes.
type Prefix net.IP

// NextHop is an IPv6 /128 address carrying (version, seq, KeyHash) metadata.
type NextHop net.IP

// Route is one (Prefix, NextHop) pair, as announced or withdrawn to the BGP
// daemon.
type Route struct {
	Prefix  Prefix
	NextHop NextHop
}

// Seq returns the route's sequence number, read from Prefix field 1.
func (r Route) Seq() uint16 {
	return fields(net.IP(r.Prefix))[1]
}

// Version returns the route's version, read from NextHop field 1.
func (r Route) Version() uint16 {
	return fields(net.IP(r.NextHop))[1]
}

// IsSentinel reports whether both Prefix field 0 and NextHop field 0 carry
// the 0xBF51 marker. A route missing either sentinel did not come from a
// KVS-BGP peer and must be rejected rather than admitted into reassembly.
func (r Route) IsSentinel() bool {
	return fields(net.IP(r.Prefix))[0] == Sentinel && fields(net.IP(r.NextHop))[0] == Sentinel
}

// HeaderLengths reads the declared key and value lengths from a seq=0
// header route's Prefix fields 2 and 3.
func (r Route) HeaderLengths() (keyLen, valueLen int) {
	f := fields(net.IP(r.Prefix))
	return int(f[2]), int(f[3])
}

// KeyHash returns the route's KeyHash, read from NextHop fields 4..7.
func (r Route) KeyHash() uint64 {
	b := net.IP(r.NextHop).To16()
	return binary.BigEndian.Uint64(b[8:16])
}

// HashKey returns the low 64 bits of the stable, non-cryptographic hash used
// to disambiguate route fragments for a given key. It is deterministic
// across processes and Go versions, as required so that peers agree on the
// KeyHash for a given key without coordination.
func HashKey(key []byte) uint64 {
	return farm.Hash64(key)
}

// Encode packs (key, value, version) into an ordered sequence of routes,
// seq starting at 0. The header route (seq 0) carries the declared key and
// value lengths plus the first 8 payload bytes; every subsequent route
// carries 12 payload bytes, with the final route right-zero-padded.
func Encode(key, value []byte, version uint16) ([]Route, error) {
	if len(key) > 0xFFFF || len(value) > 0xFFFF {
		return nil, fmt.Errorf("%w: key=%d value=%d", ErrOversize, len(key), len(value))
	}
	payload := make([]byte, 0, len(key)+len(value))
	payload = append(payload, key...)
	payload = append(payload, value...)
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrOversize, len(payload), MaxPayloadLen)
	}

	n := routeCount(len(payload))
	keyHash := HashKey(key)
	routes := make([]Route, 0, n)

	offset := 0
	for seq := 0; seq < n; seq++ {
		var chunk []byte
		if seq == 0 {
			chunk = nextChunk(payload, &offset, headerPayloadLen)
		} else {
			chunk = nextChunk(payload, &offset, continuationPayloadLen)
		}

		prefixFields := [8]uint16{Sentinel, uint16(seq)}
		if seq == 0 {
			prefixFields[2] = uint16(len(key))
			prefixFields[3] = uint16(len(value))
			packBytes(prefixFields[4:8], chunk)
		} else {
			packBytes(prefixFields[2:8], chunk)
		}

		nextHopFields := [8]uint16{Sentinel, version, uint16(seq), 0}
		nextHopFields[4] = uint16(keyHash >> 48)
		nextHopFields[5] = uint16(keyHash >> 32)
		nextHopFields[6] = uint16(keyHash >> 16)
		nextHopFields[7] = uint16(keyHash)

		routes = append(routes, Route{
			Prefix:  Prefix(fieldsToIP(prefixFields)),
			NextHop: NextHop(fieldsToIP(nextHopFields)),
		})
	}
	return routes, nil
}

// Decode reverses Encode, given a complete, ordered-or-unordered route set
// sharing a (version, KeyHash) NextHop. It validates the header, the
// declared lengths against the carried bytes, and the KeyHash against the
// decoded key before returning.
func Decode(routes []Route) (key, value []byte, version uint16, err error) {
	if len(routes) == 0 {
		return nil, nil, 0, ErrMalformedHeader
	}

	bySeq := make(map[uint16]Route, len(routes))
	for _, r := range routes {
		bySeq[r.Seq()] = r
	}
	header, ok := bySeq[0]
	if !ok {
		return nil, nil, 0, ErrMalformedHeader
	}

	n := len(bySeq)
	for seq := 0; seq < n; seq++ {
		if _, ok := bySeq[uint16(seq)]; !ok {
			return nil, nil, 0, fmt.Errorf("%w: missing seq %d of %d", ErrLengthMismatch, seq, n)
		}
	}

	hf := fields(net.IP(header.Prefix))
	keyLen := int(hf[2])
	valueLen := int(hf[3])
	declared := keyLen + valueLen
	carried := headerPayloadLen + continuationPayloadLen*(n-1)
	if declared > carried {
		return nil, nil, 0, fmt.Errorf("%w: declared %d bytes, carried %d", ErrLengthMismatch, declared, carried)
	}

	payload := make([]byte, 0, carried)
	for seq := 0; seq < n; seq++ {
		r := bySeq[uint16(seq)]
		b := net.IP(r.Prefix).To16()
		if seq == 0 {
			payload = append(payload, b[8:16]...)
		} else {
			payload = append(payload, b[4:16]...)
		}
	}

	if declared < len(payload) {
		for _, b := range payload[declared:] {
			if b != 0 {
				return nil, nil, 0, fmt.Errorf("%w: non-zero padding beyond declared length", ErrLengthMismatch)
			}
		}
	}

	key = payload[:keyLen]
	value = payload[keyLen : keyLen+valueLen]
	version = header.Version()

	if got := HashKey(key); got != header.KeyHash() {
		return nil, nil, 0, fmt.Errorf("%w: want %x got %x", ErrKeyHashMismatch, header.KeyHash(), got)
	}

	return key, value, version, nil
}

// RouteCount returns n = 1 + ceil(max(0, L-8)/12), the number of routes a
// payload of length L occupies: one header route carrying the first 8
// payload bytes plus the key/value lengths, and one continuation route per
// subsequent 12 bytes.
func RouteCount(payloadLen int) int {
	if payloadLen <= headerPayloadLen {
		return 1
	}
	remaining := payloadLen - headerPayloadLen
	return 1 + (remaining+continuationPayloadLen-1)/continuationPayloadLen
}

func routeCount(payloadLen int) int { return RouteCount(payloadLen) }

// nextChunk returns up to size bytes from payload starting at *offset,
// right-zero-padded to size, advancing *offset.
func nextChunk(payload []byte, offset *int, size int) []byte {
	chunk := make([]byte, size)
	remaining := len(payload) - *offset
	if remaining > 0 {
		n := remaining
		if n > size {
			n = size
		}
		copy(chunk, payload[*offset:*offset+n])
		*offset += n
	}
	return chunk
}

// packBytes big-endian-packs raw bytes into a []uint16 field slice, two
// bytes per field.
func packBytes(dst []uint16, src []byte) {
	for i := range dst {
		hi := src[i*2]
		lo := src[i*2+1]
		dst[i] = uint16(hi)<<8 | uint16(lo)
	}
}

func fieldsToIP(f [8]uint16) net.IP {
	b := make(net.IP, 16)
	for i, v := range f {
		binary.BigEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}

func fields(ip net.IP) [8]uint16 {
	b := ip.To16()
	var f [8]uint16
	for i := range f {
		f[i] = binary.BigEndian.Uint16(b[i*2 : i*2+2])
	}
	return f
}
