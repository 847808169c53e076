package emulation

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/topology"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func mustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func addr(s string) netip.Addr { return netip.MustParseAddr(s) }

// summary renders constraints as "src>dst impairment-key" lines.
func summary(cs []GroupConstraint) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = fmt.Sprintf("%s>%s %s", c.Src, c.Dst, c.Impairment.Key())
	}
	return out
}

func sortedSummary(cs []GroupConstraint) []string {
	out := summary(cs)
	sort.Strings(out)
	return out
}

// device builds a device with one address per CIDR.
func device(name string, cidrs ...string) topology.Device {
	d := topology.Device{Name: name, Loopback: name == topology.LoopbackDevice}
	for _, c := range cidrs {
		p := netip.MustParsePrefix(c)
		d.Bindings = append(d.Bindings, topology.Binding{Addr: p.Addr(), Prefix: p.Masked()})
	}
	return d
}

// threeCities is the paris/berlin/londres testbed: one host per group,
// each with loopback, one experiment address and the docker bridge.
func threeCities() (inventory.Roles, topology.Map) {
	h1 := &inventory.Host{Alias: "h1", Address: "192.168.0.1"}
	h2 := &inventory.Host{Alias: "h2", Address: "192.168.0.2"}
	h3 := &inventory.Host{Alias: "h3", Address: "192.168.0.3"}
	roles := inventory.Roles{}
	roles.Add("paris", h1)
	roles.Add("berlin", h2)
	roles.Add("londres", h3)

	topo := topology.Map{}
	for i, h := range []*inventory.Host{h1, h2, h3} {
		topo[h.Alias] = &topology.HostTopology{Devices: []topology.Device{
			device("docker0", "172.17.0.1/16"),
			device("eth0", fmt.Sprintf("10.0.0.%d/24", i+1)),
			device("lo", "127.0.0.1/8"),
		}}
	}
	return roles, topo
}

// fakeKernel is an Executor interpreting the tc scripts tbkit generates
// against in-memory qdisc state, with the error behaviour of tc: adding a
// second root qdisc fails and deleting a missing one fails.
type fakeKernel struct {
	mu    sync.Mutex
	state map[string]map[string][]string // host -> device -> installed objects
	fail  map[string]error               // host -> error returned instead of running
	calls int
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{state: map[string]map[string][]string{}, fail: map[string]error{}}
}

func (k *fakeKernel) Execute(_ context.Context, _ string, tasks []remote.Task, _ remote.Options) ([]remote.Result, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++

	results := make([]remote.Result, len(tasks))
	for i, t := range tasks {
		results[i] = remote.Result{Host: t.Host.Alias}
		if err := k.fail[t.Host.Alias]; err != nil {
			results[i].Err = err
			continue
		}
		results[i].Output, results[i].Err = k.run(t.Host.Alias, t.Script)
	}
	return results, nil
}

func (k *fakeKernel) run(host, script string) (string, error) {
	devs := k.state[host]
	if devs == nil {
		devs = map[string][]string{}
		k.state[host] = devs
	}
	for _, line := range strings.Split(strings.TrimSpace(script), "\n") {
		tolerant := false
		if l, ok := strings.CutSuffix(line, " 2>/dev/null || true"); ok {
			line, tolerant = l, true
		}
		if line == "set -e" {
			continue
		}
		argv, err := remote.SplitCommand(line)
		if err != nil {
			return "", err
		}
		if err := k.apply(devs, argv); err != nil && !tolerant {
			return err.Error(), fmt.Errorf("exit status 2")
		}
	}
	return "", nil
}

func (k *fakeKernel) apply(devs map[string][]string, argv []string) error {
	if len(argv) < 5 || argv[0] != "tc" {
		return fmt.Errorf("unexpected command %q", argv)
	}
	dev := ""
	for i := range argv[:len(argv)-1] {
		if argv[i] == "dev" {
			dev = argv[i+1]
		}
	}
	object, action := argv[1], argv[2]
	installed := devs[dev]
	root := len(installed) > 0

	switch {
	case object == "qdisc" && action == "del":
		if !root {
			return fmt.Errorf("Error: Cannot delete qdisc with handle of zero.")
		}
		delete(devs, dev)
	case object == "qdisc" && action == "add" && argv[5] == "root":
		if root {
			return fmt.Errorf("Error: Exclusivity flag on, cannot modify.")
		}
		devs[dev] = []string{strings.Join(argv[1:], " ")}
	case action == "add":
		if !root {
			return fmt.Errorf("Error: Parent Qdisc doesn't exists.")
		}
		devs[dev] = append(installed, strings.Join(argv[1:], " "))
	default:
		return fmt.Errorf("unexpected command %q", argv)
	}
	return nil
}

// installed returns a copy of the state of host.
func (k *fakeKernel) installed(host string) map[string][]string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := map[string][]string{}
	for dev, objs := range k.state[host] {
		out[dev] = append([]string(nil), objs...)
	}
	return out
}
