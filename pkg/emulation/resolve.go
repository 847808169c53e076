package emulation

import (
	"fmt"
	"net/netip"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/topology"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// ResolvedRule shapes traffic leaving Device on Host towards Target.
type ResolvedRule struct {
	Host       *inventory.Host
	Device     string
	Target     netip.Addr
	Impairment Impairment
}

// ResolveOptions tune address resolution.
type ResolveOptions struct {
	// SelfLoopback shapes traffic a host sends to its own addresses on
	// the loopback device. Without it such pairs are skipped.
	SelfLoopback bool
	// Excluded addresses are never targets.
	Excluded []netip.Addr
}

// DefaultResolveOptions excludes the Docker bridge gateway and shapes
// self traffic on loopback.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{
		SelfLoopback: true,
		Excluded:     []netip.Addr{util.DockerBridgeGateway},
	}
}

// Resolve maps group constraints onto devices and destination addresses.
// It only reads topo. A constraint producing no rules is not an error: it
// is returned as a warning. A group missing from roles is an
// UnknownGroupError.
func Resolve(constraints []GroupConstraint, roles inventory.Roles, topo topology.Map, opts ResolveOptions) ([]ResolvedRule, []util.Warning, error) {
	var rules []ResolvedRule
	var warnings []util.Warning

	for _, c := range constraints {
		srcs, ok := roles[c.Src]
		if !ok {
			return nil, nil, util.NewUnknownGroupError(c.Src, "")
		}
		dsts, ok := roles[c.Dst]
		if !ok {
			return nil, nil, util.NewUnknownGroupError(c.Dst, "")
		}

		before := len(rules)
		for _, s := range srcs.Sorted() {
			devices := sourceDevices(topo.Host(s.Alias), c.Network)
			for _, d := range dsts.Sorted() {
				devs := devices
				if s.Alias == d.Alias {
					if !opts.SelfLoopback {
						continue
					}
					devs = []string{topology.LoopbackDevice}
				}
				targets := targetAddrs(topo.Host(d.Alias), c.Network, opts.Excluded)
				for _, dev := range devs {
					for _, ip := range targets {
						rules = append(rules, ResolvedRule{Host: s, Device: dev, Target: ip, Impairment: c.Impairment})
					}
				}
			}
		}

		if len(rules) == before {
			w := util.Warning{
				Kind:    util.WarnResolutionEmpty,
				Message: fmt.Sprintf("%s -> %s resolved to no rules", c.Src, c.Dst),
			}
			if c.Network != "" {
				w.Message += fmt.Sprintf(" on network %q", c.Network)
			}
			util.WithOperation("resolve").Warn(w.Message)
			warnings = append(warnings, w)
		}
	}
	return rules, warnings, nil
}

// sourceDevices lists the active devices of a host, restricted to network
// when one is named.
func sourceDevices(ht *topology.HostTopology, network string) []string {
	if ht == nil {
		return nil
	}
	var devs []string
	for _, d := range ht.Devices {
		if !d.Active() {
			continue
		}
		if network != "" && !d.OnNetwork(network) {
			continue
		}
		devs = append(devs, d.Name)
	}
	return devs
}

// targetAddrs lists the routable addresses of a host, restricted to network
// when one is named.
func targetAddrs(ht *topology.HostTopology, network string, excluded []netip.Addr) []netip.Addr {
	if ht == nil {
		return nil
	}
	var addrs []netip.Addr
	seen := make(map[netip.Addr]bool)
	for _, d := range ht.Devices {
		if d.Loopback {
			continue
		}
		for _, b := range d.Bindings {
			if network != "" && !bindingOn(b, network) {
				continue
			}
			ip := b.Addr.Unmap()
			if !util.IsRoutableTarget(ip, excluded) || seen[ip] {
				continue
			}
			seen[ip] = true
			addrs = append(addrs, ip)
		}
	}
	return addrs
}

func bindingOn(b topology.Binding, network string) bool {
	for _, n := range b.Networks {
		if n == network {
			return true
		}
	}
	return false
}
