package topology

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// LocalSyncer reads the devices of the machine tbkit runs on over netlink.
// Hosts that are not marked Local are skipped.
type LocalSyncer struct{}

// Sync implements Syncer.
func (LocalSyncer) Sync(_ context.Context, hosts []*inventory.Host) (Map, error) {
	m := make(Map)
	var devs []Device
	for _, h := range hosts {
		if !h.Local {
			util.WithHost(h.Alias).Debug("not local, skipped by local topology sync")
			continue
		}
		if devs == nil {
			var err error
			if devs, err = LocalDevices(); err != nil {
				return nil, err
			}
		}
		m[h.Alias] = &HostTopology{Devices: devs}
	}
	return m, nil
}

// LocalDevices lists the local links with their addresses.
func LocalDevices() ([]Device, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	devs := make([]Device, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		d := Device{
			Name:     attrs.Name,
			Loopback: attrs.Flags&net.FlagLoopback != 0,
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", attrs.Name, err)
		}
		for _, a := range addrs {
			if b, ok := bindingFromIPNet(a.IPNet); ok {
				d.Bindings = append(d.Bindings, b)
			}
		}
		devs = append(devs, d)
	}
	sortDevices(devs)
	return devs, nil
}

func bindingFromIPNet(n *net.IPNet) (Binding, bool) {
	if n == nil {
		return Binding{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return Binding{}, false
	}
	addr = addr.Unmap()
	ones, bits := n.Mask.Size()
	if addr.Is4() && bits == 128 {
		ones -= 96
	}
	prefix, err := addr.Prefix(ones)
	if err != nil {
		return Binding{}, false
	}
	return Binding{Addr: addr, Prefix: prefix}, true
}
