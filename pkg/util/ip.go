package util

import (
	"fmt"
	"net/netip"
	"strings"
)

// DockerBridgeGateway is the address Docker assigns to docker0 by default.
// It is bound on many testbed images and is never a useful shaping target.
var DockerBridgeGateway = netip.MustParseAddr("172.17.0.1")

// ParseIPWithMask parses an address in CIDR notation ("10.0.0.1/24").
// A bare address is accepted and gets a host-length prefix.
func ParseIPWithMask(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR notation: %s", s)
		}
		return p, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP address: %s", s)
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// HostPrefix renders addr as a single-host prefix ("10.0.0.1/32", "fd00::1/128").
func HostPrefix(addr netip.Addr) string {
	return netip.PrefixFrom(addr, addr.BitLen()).String()
}

// IsRoutableTarget reports whether addr can be a destination for shaping:
// not loopback, not link-local, not unspecified and not in excluded.
func IsRoutableTarget(addr netip.Addr, excluded []netip.Addr) bool {
	if !addr.IsValid() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return false
	}
	for _, x := range excluded {
		if addr.Unmap() == x.Unmap() {
			return false
		}
	}
	return true
}
