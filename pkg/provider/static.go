package provider

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// InventoryFile is the YAML layout read by the static provider:
//
//	hosts:
//	  - alias: h1
//	    address: 10.0.0.1
//	roles:
//	  paris: [h1]
//	networks:
//	  exp: [10.0.0.0/24]
type InventoryFile struct {
	Hosts    []*inventory.Host   `yaml:"hosts"`
	Roles    map[string][]string `yaml:"roles"`
	Networks map[string][]string `yaml:"networks"`
}

// Static serves hosts listed in an inventory file. They already exist, so
// Destroy releases nothing.
type Static struct {
	path string
}

// NewStatic returns a provider reading path.
func NewStatic(path string) *Static {
	return &Static{path: path}
}

// Init implements Provider.
func (s *Static) Init(_ context.Context) (inventory.Roles, inventory.Networks, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("read inventory: %w", err)
	}
	roles, networks, err := ParseInventory(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", s.path, err)
	}
	util.WithField("inventory", s.path).Infof("loaded %d host(s) in %d role(s)", roles.All().Len(), len(roles))
	return roles, networks, nil
}

// Destroy implements Provider.
func (s *Static) Destroy(_ context.Context) error {
	return nil
}

// ParseInventory decodes an inventory document.
func ParseInventory(data []byte) (inventory.Roles, inventory.Networks, error) {
	var f InventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse inventory: %w", err)
	}

	var vb util.ValidationBuilder
	hosts := inventory.NewHostSet()
	for i, h := range f.Hosts {
		if h == nil || h.Alias == "" {
			vb.AddErrorf("hosts[%d]: alias is required", i)
			continue
		}
		if hosts.Contains(h.Alias) {
			vb.AddErrorf("host %q listed twice", h.Alias)
			continue
		}
		hosts.Add(h)
	}

	roles := inventory.Roles{}
	for role, aliases := range f.Roles {
		for _, alias := range aliases {
			h, ok := hosts.Get(alias)
			if !ok {
				vb.AddErrorf("role %q: unknown host %q", role, alias)
				continue
			}
			roles.Add(role, h)
		}
	}

	networks := inventory.Networks{}
	for name, cidrs := range f.Networks {
		for _, c := range cidrs {
			p, err := util.ParseIPWithMask(c)
			if err != nil {
				vb.AddErrorf("network %q: %v", name, err)
				continue
			}
			networks[name] = append(networks[name], p.Masked())
		}
	}

	if err := vb.Build(); err != nil {
		return nil, nil, err
	}
	return roles, networks, nil
}
