package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

var (
	// ErrBlockedHost marks hosts that are IP literals or resolve into a
	// blocked range.
	ErrBlockedHost = errors.New("non-public host")
	// ErrSchemeNotHTTPS rejects anything but https.
	ErrSchemeNotHTTPS = errors.New("only https urls are supported")
)

// blockedPrefixes are the private, loopback, link-local, multicast, and
// documentation ranges the fetcher must never touch. IPv4-mapped IPv6
// addresses are unmapped before the check, so they hit the IPv4 rows.
var blockedPrefixes = []netip.Prefix{
	// IPv4
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	// IPv6
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// Resolver is the DNS surface the guard needs; *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates hosts before any connection is attempted. The zero value
// uses the default resolver and blocks private hosts.
type Guard struct {
	Resolver Resolver
	// AllowPrivateHosts disables the range check for tests against local
	// listeners. The scheme check still applies.
	AllowPrivateHosts bool
}

func (g *Guard) resolver() Resolver {
	if g != nil && g.Resolver != nil {
		return g.Resolver
	}
	return net.DefaultResolver
}

// ValidateHost rejects IP-literal hosts outright and resolves named hosts,
// failing when any address lands in a blocked range.
func (g *Guard) ValidateHost(ctx context.Context, host string) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedHost)
	}
	if g != nil && g.AllowPrivateHosts {
		return nil
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return fmt.Errorf("%w: ip literal %s", ErrBlockedHost, addr)
	}
	addrs, err := g.resolver().LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return fmt.Errorf("%w: %s has unparseable address", ErrBlockedHost, host)
		}
		if IsBlockedAddr(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, addr)
		}
	}
	return nil
}

// IsBlockedAddr reports whether the address falls inside the blocked union.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
