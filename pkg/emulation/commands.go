package emulation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/util"
)

func tc(args ...string) string {
	return remote.Command(append([]string{"tc"}, args...)...)
}

// CleanupCommand removes the root qdisc of device. A device without one is
// already clean, so the error is ignored.
func CleanupCommand(device string) string {
	return tc("qdisc", "del", "dev", device, "root") + " 2>/dev/null || true"
}

// FlatCommands installs the netem qdisc of e.
func FlatCommands(e FlatEntry) []string {
	args := append([]string{"qdisc", "add", "dev", e.Device, "root", "netem"}, e.Impairment.netemArgs(true)...)
	return []string{tc(args...)}
}

// HTBCommands installs the HTB tree of t: the root qdisc, the catch-all
// class, then per class an HTB class, its netem leaf and one filter per
// destination.
func HTBCommands(t DeviceTree) []string {
	dev := t.Device
	def := strconv.Itoa(DefaultClassMinor)
	cmds := []string{
		tc("qdisc", "add", "dev", dev, "root", "handle", "1:", "htb", "default", def),
		tc("class", "add", "dev", dev, "parent", "1:", "classid", "1:"+def,
			"htb", "rate", t.DefaultRate.String(), "ceil", t.DefaultRate.String()),
	}
	for _, c := range t.Classes {
		rate := t.DefaultRate
		if c.Impairment.Rate != nil {
			rate = *c.Impairment.Rate
		}
		cmds = append(cmds, tc("class", "add", "dev", dev, "parent", "1:", "classid", c.ID(),
			"htb", "rate", rate.String(), "ceil", rate.String(), "prio", strconv.Itoa(c.Priority)))

		if netem := c.Impairment.netemArgs(false); len(netem) > 0 {
			args := append([]string{"qdisc", "add", "dev", dev, "parent", c.ID(),
				"handle", strconv.Itoa(c.Minor) + ":", "netem"}, netem...)
			cmds = append(cmds, tc(args...))
		}

		for _, ip := range c.Targets {
			proto, match, pref := "ip", "ip", "1"
			if ip.Is6() {
				proto, match, pref = "ipv6", "ip6", "2"
			}
			cmds = append(cmds, tc("filter", "add", "dev", dev, "parent", "1:", "protocol", proto,
				"prio", pref, "u32", "match", match, "dst", util.HostPrefix(ip), "flowid", c.ID()))
		}
	}
	return cmds
}

// HostScript is the shell script run on one host.
type HostScript struct {
	Alias   string
	Devices []string // devices the script cleans
	Lines   []string
}

func (s HostScript) String() string {
	return strings.Join(s.Lines, "\n") + "\n"
}

// Scripts builds one script per host. Every device in cleanup is reset
// first; with install set the plan's qdiscs follow. Hosts appear in
// alias order.
func (p *Plan) Scripts(cleanup map[string][]string, install bool) []HostScript {
	installs := make(map[string][]string)
	if install {
		for _, e := range p.Flat {
			installs[e.Host.Alias] = append(installs[e.Host.Alias], FlatCommands(e)...)
		}
		for _, t := range p.Trees {
			installs[t.Host.Alias] = append(installs[t.Host.Alias], HTBCommands(t)...)
		}
	}

	var aliases []string
	for alias := range cleanup {
		aliases = append(aliases, alias)
	}
	for alias := range installs {
		if _, ok := cleanup[alias]; !ok {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)

	scripts := make([]HostScript, 0, len(aliases))
	for _, alias := range aliases {
		s := HostScript{Alias: alias, Devices: cleanup[alias], Lines: []string{"set -e"}}
		for _, dev := range cleanup[alias] {
			s.Lines = append(s.Lines, CleanupCommand(dev))
		}
		s.Lines = append(s.Lines, installs[alias]...)
		scripts = append(scripts, s)
	}
	return scripts
}

// Describe renders the plan for humans, one line per device and class.
func (p *Plan) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode %s\n", p.Mode)
	for _, e := range p.Flat {
		fmt.Fprintf(&b, "%s/%s: %s\n", e.Host.Alias, e.Device, e.Impairment)
	}
	for _, t := range p.Trees {
		fmt.Fprintf(&b, "%s/%s: default 1:%d rate %s\n", t.Host.Alias, t.Device, DefaultClassMinor, t.DefaultRate)
		for _, c := range t.Classes {
			targets := make([]string, len(c.Targets))
			for i, ip := range c.Targets {
				targets[i] = ip.String()
			}
			fmt.Fprintf(&b, "  %s %s -> %s\n", c.ID(), c.Impairment, strings.Join(targets, ", "))
		}
	}
	return b.String()
}
