package peer

import (
	"encoding/json"
	"net"

	"github.com/kvsbgp/kvsbgp/internal/codec"
)

// frameKind distinguishes the announce/withdraw/route-update vocabulary of
// a BGP daemon's local control channel.
type frameKind string

const (
	frameAnnounce frameKind = "announce"
	frameWithdraw frameKind = "withdraw"
	frameUpdate   frameKind = "update" // inbound route learned from a peer
)

// frame is the JSON wire shape exchanged with the external BGP daemon over
// its local control channel, modeled on the text/JSON command sockets
// exposed by daemons such as ExaBGP or GoBGP.
type frame struct {
	Kind      frameKind `json:"kind"`
	Prefix    string    `json:"prefix"`   // IPv6 address, e.g. "bf51:0:5:a:4d79:4b65:2053:6f6d"
	NextHop   string    `json:"next_hop"` // IPv6 address
	Community string    `json:"community,omitempty"`
}

func encodeFrame(kind frameKind, route codec.Route, community *string) ([]byte, error) {
	f := frame{
		Kind:    kind,
		Prefix:  net.IP(route.Prefix).String(),
		NextHop: net.IP(route.NextHop).String(),
	}
	if community != nil {
		f.Community = *community
	}
	return json.Marshal(f)
}

func decodeFrame(data []byte) (frameKind, codec.Route, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", codec.Route{}, err
	}
	prefix := net.ParseIP(f.Prefix)
	nextHop := net.ParseIP(f.NextHop)
	if prefix == nil || nextHop == nil {
		return "", codec.Route{}, errInvalidFrame
	}
	route := codec.Route{
		Prefix:  codec.Prefix(prefix.To16()),
		NextHop: codec.NextHop(nextHop.To16()),
	}
	return f.Kind, route, nil
}
