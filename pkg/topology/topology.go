// Package topology describes which network devices each host has and which
// addresses are bound to them, and keeps that picture up to date.
package topology

import (
	"context"
	"net/netip"
	"sort"

	"github.com/tbkit-project/tbkit/pkg/inventory"
)

// LoopbackDevice is the device used when a host shapes traffic to itself.
const LoopbackDevice = "lo"

// Binding is one address on a device and the logical networks covering it.
type Binding struct {
	Addr     netip.Addr   `json:"addr"`
	Prefix   netip.Prefix `json:"prefix"`
	Networks []string     `json:"networks,omitempty"`
}

// Device is a named network device on a host.
type Device struct {
	Name     string    `json:"name"`
	Loopback bool      `json:"loopback,omitempty"`
	Bindings []Binding `json:"bindings,omitempty"`
}

// Active reports whether the device carries traffic worth shaping: it is
// not loopback and has at least one bound address.
func (d Device) Active() bool {
	return !d.Loopback && len(d.Bindings) > 0
}

// OnNetwork reports whether any binding belongs to network.
func (d Device) OnNetwork(network string) bool {
	for _, b := range d.Bindings {
		for _, n := range b.Networks {
			if n == network {
				return true
			}
		}
	}
	return false
}

// HostTopology is the device list of one host.
type HostTopology struct {
	Devices []Device `json:"devices"`
}

// Device returns the device called name.
func (t *HostTopology) Device(name string) (Device, bool) {
	if t == nil {
		return Device{}, false
	}
	for _, d := range t.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// Map is the synchronized topology of many hosts, keyed by alias.
type Map map[string]*HostTopology

// Host returns the topology of alias, or nil.
func (m Map) Host(alias string) *HostTopology {
	return m[alias]
}

// Aliases returns the sorted host aliases.
func (m Map) Aliases() []string {
	aliases := make([]string, 0, len(m))
	for a := range m {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}

// Bind records, on every binding, the logical networks that contain its
// address. Existing annotations are replaced.
func (m Map) Bind(networks inventory.Networks) {
	for _, ht := range m {
		for i := range ht.Devices {
			for j := range ht.Devices[i].Bindings {
				b := &ht.Devices[i].Bindings[j]
				b.Networks = networks.Containing(b.Addr)
			}
		}
	}
}

// Syncer refreshes the topology of a set of hosts. It is called once before
// addresses are resolved; the result is not cached.
type Syncer interface {
	Sync(ctx context.Context, hosts []*inventory.Host) (Map, error)
}

func sortDevices(devs []Device) {
	sort.SliceStable(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })
}
