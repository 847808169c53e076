package provider

import (
	"context"
	"os"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/topology"
)

// Local offers this machine as one host. Its networks are the prefixes
// bound to its devices, named after the device.
type Local struct {
	alias string
	roles []string
}

// NewLocal returns a provider for this machine. The alias defaults to the
// hostname and the role list to the alias.
func NewLocal(alias string, roles ...string) *Local {
	if alias == "" {
		alias, _ = os.Hostname()
		if alias == "" {
			alias = "localhost"
		}
	}
	if len(roles) == 0 {
		roles = []string{alias}
	}
	return &Local{alias: alias, roles: roles}
}

// Init implements Provider.
func (l *Local) Init(_ context.Context) (inventory.Roles, inventory.Networks, error) {
	devs, err := topology.LocalDevices()
	if err != nil {
		return nil, nil, err
	}

	h := &inventory.Host{Alias: l.alias, Address: "127.0.0.1", Local: true}
	roles := inventory.Roles{}
	for _, r := range l.roles {
		roles.Add(r, h)
	}
	return roles, localNetworks(devs), nil
}

// Destroy implements Provider.
func (l *Local) Destroy(_ context.Context) error {
	return nil
}

func localNetworks(devs []topology.Device) inventory.Networks {
	networks := inventory.Networks{}
	for _, d := range devs {
		if !d.Active() {
			continue
		}
		for _, b := range d.Bindings {
			if b.Addr.IsLinkLocalUnicast() {
				continue
			}
			networks[d.Name] = append(networks[d.Name], b.Prefix)
		}
	}
	return networks
}
