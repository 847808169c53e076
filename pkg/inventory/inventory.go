// Package inventory models what a provider hands back after acquiring
// resources: hosts, the roles grouping them, and the logical networks
// they are attached to.
package inventory

import (
	"fmt"
	"net/netip"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Host is a machine commands can be run on. It is read-only once the
// provider has returned it.
type Host struct {
	Alias   string            `yaml:"alias" json:"alias"`
	Address string            `yaml:"address" json:"address"`
	User    string            `yaml:"user,omitempty" json:"user,omitempty"`
	Port    int               `yaml:"port,omitempty" json:"port,omitempty"`
	KeyFile string            `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	Local   bool              `yaml:"local,omitempty" json:"local,omitempty"` // run commands without SSH
	Extra   map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

func (h *Host) String() string {
	if h.Address == "" || h.Address == h.Alias {
		return h.Alias
	}
	return fmt.Sprintf("%s(%s)", h.Alias, h.Address)
}

// HostSet is an unordered set of hosts keyed by alias. It has no index;
// use Sorted for a stable, ordered view.
type HostSet struct {
	keys  mapset.Set[string]
	hosts map[string]*Host
}

// NewHostSet returns a set holding hosts.
func NewHostSet(hosts ...*Host) *HostSet {
	s := &HostSet{
		keys:  mapset.NewThreadUnsafeSet[string](),
		hosts: make(map[string]*Host, len(hosts)),
	}
	for _, h := range hosts {
		s.Add(h)
	}
	return s
}

// Add inserts h. A host with the same alias is replaced.
func (s *HostSet) Add(h *Host) {
	s.keys.Add(h.Alias)
	s.hosts[h.Alias] = h
}

// Contains reports whether a host with alias is in the set.
func (s *HostSet) Contains(alias string) bool {
	return s != nil && s.keys.Contains(alias)
}

// Get returns the host with alias.
func (s *HostSet) Get(alias string) (*Host, bool) {
	if s == nil {
		return nil, false
	}
	h, ok := s.hosts[alias]
	return h, ok
}

// Len returns the number of hosts.
func (s *HostSet) Len() int {
	if s == nil {
		return 0
	}
	return s.keys.Cardinality()
}

// Union returns a new set with the hosts of s and o.
func (s *HostSet) Union(o *HostSet) *HostSet {
	return s.derive(o, s.orEmpty().Union(o.orEmpty()))
}

// Intersect returns a new set with the hosts present in both s and o.
func (s *HostSet) Intersect(o *HostSet) *HostSet {
	return s.derive(o, s.orEmpty().Intersect(o.orEmpty()))
}

// Difference returns a new set with the hosts of s not in o.
func (s *HostSet) Difference(o *HostSet) *HostSet {
	return s.derive(o, s.orEmpty().Difference(o.orEmpty()))
}

// Sorted is the ordered projection of the set, alphabetical by alias.
func (s *HostSet) Sorted() []*Host {
	aliases := s.Aliases()
	out := make([]*Host, len(aliases))
	for i, a := range aliases {
		out[i] = s.hosts[a]
	}
	return out
}

// Aliases returns the sorted aliases.
func (s *HostSet) Aliases() []string {
	if s == nil {
		return nil
	}
	aliases := s.keys.ToSlice()
	sort.Strings(aliases)
	return aliases
}

func (s *HostSet) orEmpty() mapset.Set[string] {
	if s == nil {
		return mapset.NewThreadUnsafeSet[string]()
	}
	return s.keys
}

func (s *HostSet) derive(o *HostSet, keys mapset.Set[string]) *HostSet {
	out := NewHostSet()
	for _, alias := range keys.ToSlice() {
		if h, ok := s.Get(alias); ok {
			out.Add(h)
		} else if h, ok := o.Get(alias); ok {
			out.Add(h)
		}
	}
	return out
}

// Roles maps a role (group) name to its hosts. A host may hold many roles.
type Roles map[string]*HostSet

// Add puts hosts under role.
func (r Roles) Add(role string, hosts ...*Host) {
	set, ok := r[role]
	if !ok {
		set = NewHostSet()
		r[role] = set
	}
	for _, h := range hosts {
		set.Add(h)
	}
}

// Names returns the sorted role names.
func (r Roles) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every host holding at least one role.
func (r Roles) All() *HostSet {
	all := NewHostSet()
	for _, set := range r {
		all = all.Union(set)
	}
	return all
}

// Networks maps a logical network name to the prefixes it covers.
type Networks map[string][]netip.Prefix

// Names returns the sorted network names.
func (n Networks) Names() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Containing returns the sorted names of the networks covering addr.
func (n Networks) Containing(addr netip.Addr) []string {
	var names []string
	for _, name := range n.Names() {
		for _, p := range n[name] {
			if p.Contains(addr.Unmap()) {
				names = append(names, name)
				break
			}
		}
	}
	return names
}
