// Package discovery locates a BGP daemon's local control channel via mDNS
// when no static address is configured. Narrowed from "announce self,
// discover many gossip peers" to "discover the one local control-channel
// service".
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service type advertised by a BGP daemon's control
// channel.
const ServiceName = "_kvsbgpd-ctl._tcp"

// ErrNoServiceFound is returned by Resolve when the browse window elapses
// with no matching entry.
var ErrNoServiceFound = errors.New("discovery: no control-channel service found")

// Resolver finds the control-channel address via mDNS browsing, suitable
// for peer.WithDiscovery.
type Resolver struct {
	domain string
}

// NewResolver creates a Resolver that browses the given mDNS domain
// ("local." when empty).
func NewResolver(domain string) *Resolver {
	if domain == "" {
		domain = "local."
	}
	return &Resolver{domain: domain}
}

// Resolve browses for ServiceName and returns the host:port of the first
// entry seen before ctx is done. Ties are broken by arrival order, since a
// well-behaved deployment runs exactly one control channel per host.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, ServiceName, r.domain, entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoServiceFound
			}
			if addr, ok := addressOf(entry); ok {
				return addr, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func addressOf(entry *zeroconf.ServiceEntry) (string, bool) {
	port := strconv.Itoa(entry.Port)
	for _, ip := range entry.AddrIPv4 {
		return net.JoinHostPort(ip.String(), port), true
	}
	for _, ip := range entry.AddrIPv6 {
		return net.JoinHostPort(ip.String(), port), true
	}
	return "", false
}

// Announce registers this process's own control channel under ServiceName,
// for the (uncommon) deployment where kvsbgpd itself hosts the BGP daemon
// control socket rather than a sibling process. Returns a stop function.
func Announce(instanceID, bindAddr string) (stop func(), err error) {
	_, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid bind addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid port: %w", err)
	}
	server, err := zeroconf.Register(instanceID, ServiceName, "local.", port, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	return server.Shutdown, nil
}
