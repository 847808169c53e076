package emulation

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// Mode selects how a plan shapes traffic.
type Mode string

const (
	// ModeFlat installs one netem qdisc per device: every destination
	// sees the same impairment.
	ModeFlat Mode = "flat"
	// ModeHTB installs an HTB tree per device with one class per distinct
	// impairment and u32 filters steering destinations into them.
	ModeHTB Mode = "htb"
)

// ParseMode accepts "flat" or "htb"; "" means htb.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeHTB:
		return ModeHTB, nil
	case ModeFlat:
		return ModeFlat, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, ModeFlat, ModeHTB)
}

// FlatEntry is the single impairment of a device in flat mode.
type FlatEntry struct {
	Host       *inventory.Host
	Device     string
	Impairment Impairment
}

// DefaultClassMinor is the HTB class unmatched traffic falls into.
const DefaultClassMinor = 1

// DefaultClassBase is the minor number of the first impairment class.
const DefaultClassBase = 10

// Class is one HTB leaf: traffic to Targets gets Impairment.
type Class struct {
	Minor      int
	Impairment Impairment
	Targets    []netip.Addr
	Priority   int
}

// ID renders the class id under root handle 1:.
func (c Class) ID() string {
	return fmt.Sprintf("1:%d", c.Minor)
}

// DeviceTree is the HTB layout of one device.
type DeviceTree struct {
	Host        *inventory.Host
	Device      string
	DefaultRate Rate
	Classes     []Class
}

// Plan is a compiled enforcement plan. Exactly one of Flat and Trees is
// used, according to Mode.
type Plan struct {
	Mode     Mode
	Flat     []FlatEntry
	Trees    []DeviceTree
	Warnings []util.Warning
}

// Empty reports whether the plan touches no device.
func (p *Plan) Empty() bool {
	return len(p.Flat) == 0 && len(p.Trees) == 0
}

// Hosts returns the planned hosts sorted by alias.
func (p *Plan) Hosts() []*inventory.Host {
	set := inventory.NewHostSet()
	for _, e := range p.Flat {
		set.Add(e.Host)
	}
	for _, t := range p.Trees {
		set.Add(t.Host)
	}
	return set.Sorted()
}

// Devices returns, per host alias, the planned devices in plan order.
func (p *Plan) Devices() map[string][]string {
	out := make(map[string][]string)
	for _, e := range p.Flat {
		out[e.Host.Alias] = append(out[e.Host.Alias], e.Device)
	}
	for _, t := range p.Trees {
		out[t.Host.Alias] = append(out[t.Host.Alias], t.Device)
	}
	return out
}

type deviceKey struct{ host, device string }

// BuildFlat keeps, for every device, the impairment of the last rule
// targeting it. Netem cannot tell destinations apart, so an earlier
// different impairment is dropped with a warning.
func BuildFlat(rules []ResolvedRule) *Plan {
	p := &Plan{Mode: ModeFlat}
	index := make(map[deviceKey]int)
	for _, r := range rules {
		k := deviceKey{r.Host.Alias, r.Device}
		i, ok := index[k]
		if !ok {
			index[k] = len(p.Flat)
			p.Flat = append(p.Flat, FlatEntry{Host: r.Host, Device: r.Device, Impairment: r.Impairment})
			continue
		}
		prev := p.Flat[i].Impairment
		if !prev.Equal(r.Impairment) {
			w := util.Warning{
				Kind: util.WarnFlatOverwrite,
				Message: fmt.Sprintf("%s/%s: impairment %s replaced by %s (flat mode applies one impairment per device)",
					r.Host.Alias, r.Device, prev, r.Impairment),
			}
			util.WithDevice(r.Host.Alias, r.Device).Warn(w.Message)
			p.Warnings = append(p.Warnings, w)
		}
		p.Flat[i].Impairment = r.Impairment
	}
	return p
}

// HTBOptions tune BuildHTB.
type HTBOptions struct {
	// DefaultRate is the rate of the catch-all class and of impairment
	// classes that do not limit bandwidth.
	DefaultRate Rate
	// ClassBase is the minor of the first impairment class.
	ClassBase int
}

// DefaultHTBOptions uses a 10gbit catch-all class and classes from 1:10.
func DefaultHTBOptions() HTBOptions {
	return HTBOptions{DefaultRate: 10_000_000_000, ClassBase: DefaultClassBase}
}

type bucket struct {
	imp     Impairment
	targets []netip.Addr
}

// BuildHTB groups the rules of every device by impairment. Each distinct
// impairment becomes a class holding its destinations; a destination
// claimed by several impairments stays with the last one. Classes are
// numbered densely from ClassBase in order of first appearance.
func BuildHTB(rules []ResolvedRule, opts HTBOptions) *Plan {
	if opts.ClassBase <= DefaultClassMinor {
		opts.ClassBase = DefaultClassBase
	}

	type device struct {
		host    *inventory.Host
		name    string
		order   []string
		buckets map[string]*bucket
		owner   map[netip.Addr]string
	}
	var devices []*device
	index := make(map[deviceKey]*device)

	for _, r := range rules {
		k := deviceKey{r.Host.Alias, r.Device}
		d, ok := index[k]
		if !ok {
			d = &device{
				host:    r.Host,
				name:    r.Device,
				buckets: make(map[string]*bucket),
				owner:   make(map[netip.Addr]string),
			}
			index[k] = d
			devices = append(devices, d)
		}

		key := r.Impairment.Key()
		if prev, ok := d.owner[r.Target]; ok {
			if prev == key {
				continue
			}
			b := d.buckets[prev]
			b.targets = removeAddr(b.targets, r.Target)
			util.WithDevice(r.Host.Alias, r.Device).Debugf("%s moves from %s to %s", r.Target, prev, key)
		}
		b, ok := d.buckets[key]
		if !ok {
			b = &bucket{imp: r.Impairment}
			d.buckets[key] = b
			d.order = append(d.order, key)
		}
		b.targets = append(b.targets, r.Target)
		d.owner[r.Target] = key
	}

	p := &Plan{Mode: ModeHTB}
	for _, d := range devices {
		tree := DeviceTree{Host: d.host, Device: d.name, DefaultRate: opts.DefaultRate}
		for _, key := range d.order {
			b := d.buckets[key]
			if len(b.targets) == 0 {
				continue
			}
			tree.Classes = append(tree.Classes, Class{
				Minor:      opts.ClassBase + len(tree.Classes),
				Impairment: b.imp,
				Targets:    b.targets,
			})
		}
		if len(tree.Classes) > 0 {
			p.Trees = append(p.Trees, tree)
		}
	}
	return p
}

func removeAddr(addrs []netip.Addr, a netip.Addr) []netip.Addr {
	out := addrs[:0]
	for _, x := range addrs {
		if x != a {
			out = append(out, x)
		}
	}
	return out
}

// sortedAddrs returns a sorted copy.
func sortedAddrs(addrs []netip.Addr) []netip.Addr {
	out := append([]netip.Addr(nil), addrs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
