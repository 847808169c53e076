package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// ipAddrCommand lists every device and its addresses as JSON.
const ipAddrCommand = "ip -j addr show"

// ipLink is one element of `ip -j addr show`.
type ipLink struct {
	IfName   string   `json:"ifname"`
	Flags    []string `json:"flags"`
	LinkType string   `json:"link_type"`
	AddrInfo []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	} `json:"addr_info"`
}

// ParseIPAddrJSON reads the output of `ip -j addr show`.
func ParseIPAddrJSON(data []byte) ([]Device, error) {
	var links []ipLink
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("parse ip addr output: %w", err)
	}

	devs := make([]Device, 0, len(links))
	for _, l := range links {
		if l.IfName == "" {
			continue
		}
		d := Device{Name: l.IfName, Loopback: l.LinkType == "loopback"}
		for _, f := range l.Flags {
			if f == "LOOPBACK" {
				d.Loopback = true
			}
		}
		for _, a := range l.AddrInfo {
			if a.Family != "inet" && a.Family != "inet6" {
				continue
			}
			addr, err := netip.ParseAddr(a.Local)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", l.IfName, err)
			}
			prefix, err := addr.Prefix(a.PrefixLen)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", l.IfName, err)
			}
			d.Bindings = append(d.Bindings, Binding{Addr: addr, Prefix: prefix})
		}
		devs = append(devs, d)
	}
	sortDevices(devs)
	return devs, nil
}

// SSHSyncer reads topology by running `ip -j addr show` on every host
// through an executor.
type SSHSyncer struct {
	exec remote.Executor
}

// NewSSHSyncer returns a syncer using exec.
func NewSSHSyncer(exec remote.Executor) *SSHSyncer {
	return &SSHSyncer{exec: exec}
}

// Sync implements Syncer. Hosts whose command or output fails are reported
// together in a RemoteOperationError; the others are still returned.
func (s *SSHSyncer) Sync(ctx context.Context, hosts []*inventory.Host) (Map, error) {
	tasks := make([]remote.Task, len(hosts))
	for i, h := range hosts {
		tasks[i] = remote.Task{Host: h, Script: ipAddrCommand}
	}
	results, err := s.exec.Execute(ctx, "topology-sync", tasks, remote.Options{})
	if err != nil {
		return nil, err
	}

	m := make(Map, len(results))
	var failures []util.HostFailure
	for _, r := range results {
		if r.Failed() {
			failures = append(failures, util.HostFailure{Host: r.Host, Output: r.Output, Err: r.Err})
			continue
		}
		devs, err := ParseIPAddrJSON([]byte(r.Output))
		if err != nil {
			failures = append(failures, util.HostFailure{Host: r.Host, Output: r.Output, Err: err})
			continue
		}
		m[r.Host] = &HostTopology{Devices: devs}
		util.WithHost(r.Host).Debugf("synced %d device(s)", len(devs))
	}
	return m, util.NewRemoteOperationError("topology-sync", failures)
}
