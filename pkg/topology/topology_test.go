package topology

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"reflect"
	"testing"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/util"
)

const ipAddrSample = `[
 {"ifindex":1,"ifname":"lo","flags":["LOOPBACK","UP","LOWER_UP"],"link_type":"loopback",
  "addr_info":[{"family":"inet","local":"127.0.0.1","prefixlen":8},{"family":"inet6","local":"::1","prefixlen":128}]},
 {"ifindex":3,"ifname":"eth1","flags":["BROADCAST","UP"],"link_type":"ether",
  "addr_info":[{"family":"inet","local":"10.0.1.5","prefixlen":24}]},
 {"ifindex":2,"ifname":"eth0","flags":["BROADCAST","UP"],"link_type":"ether",
  "addr_info":[{"family":"inet","local":"203.0.113.5","prefixlen":24},{"family":"inet6","local":"fe80::1","prefixlen":64}]},
 {"ifindex":4,"ifname":"docker0","flags":["NO-CARRIER","UP"],"link_type":"ether",
  "addr_info":[{"family":"inet","local":"172.17.0.1","prefixlen":16}]},
 {"ifindex":5,"ifname":"eth2","flags":["BROADCAST"],"link_type":"ether","addr_info":[]}
]`

func TestParseIPAddrJSON(t *testing.T) {
	devs, err := ParseIPAddrJSON([]byte(ipAddrSample))
	if err != nil {
		t.Fatalf("ParseIPAddrJSON() error: %v", err)
	}

	var names []string
	for _, d := range devs {
		names = append(names, d.Name)
	}
	if want := []string{"docker0", "eth0", "eth1", "eth2", "lo"}; !reflect.DeepEqual(names, want) {
		t.Errorf("device names = %v, want %v", names, want)
	}

	ht := &HostTopology{Devices: devs}
	lo, _ := ht.Device("lo")
	if !lo.Loopback || lo.Active() {
		t.Errorf("lo = %+v, want loopback and inactive", lo)
	}
	eth0, ok := ht.Device("eth0")
	if !ok || len(eth0.Bindings) != 2 {
		t.Fatalf("eth0 = %+v", eth0)
	}
	if eth0.Bindings[0].Addr != netip.MustParseAddr("203.0.113.5") ||
		eth0.Bindings[0].Prefix != netip.MustParsePrefix("203.0.113.0/24") {
		t.Errorf("eth0 binding = %+v", eth0.Bindings[0])
	}
	eth2, _ := ht.Device("eth2")
	if eth2.Active() {
		t.Error("device without addresses should be inactive")
	}
}

func TestParseIPAddrJSON_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "ip: command not found"},
		{"bad address", `[{"ifname":"eth0","addr_info":[{"family":"inet","local":"10.0.0.300","prefixlen":24}]}]`},
		{"bad prefix", `[{"ifname":"eth0","addr_info":[{"family":"inet","local":"10.0.0.1","prefixlen":40}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseIPAddrJSON([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMap_Bind(t *testing.T) {
	devs, err := ParseIPAddrJSON([]byte(ipAddrSample))
	if err != nil {
		t.Fatal(err)
	}
	m := Map{"h1": {Devices: devs}}
	m.Bind(inventory.Networks{
		"public": {netip.MustParsePrefix("203.0.113.0/24")},
		"exp":    {netip.MustParsePrefix("10.0.0.0/16")},
	})

	eth0, _ := m.Host("h1").Device("eth0")
	eth1, _ := m.Host("h1").Device("eth1")
	if !eth0.OnNetwork("public") || eth0.OnNetwork("exp") {
		t.Errorf("eth0 networks wrong: %+v", eth0.Bindings)
	}
	if !eth1.OnNetwork("exp") {
		t.Errorf("eth1 networks wrong: %+v", eth1.Bindings)
	}
	if got := m.Aliases(); !reflect.DeepEqual(got, []string{"h1"}) {
		t.Errorf("Aliases() = %v", got)
	}
	if m.Host("missing") != nil {
		t.Error("unknown host should have nil topology")
	}
}

func TestSSHSyncer(t *testing.T) {
	rec := &remote.Recorder{Respond: func(name string, task remote.Task) (string, error) {
		switch task.Host.Alias {
		case "bad":
			return "Permission denied", errors.New("exit status 255")
		case "garbled":
			return "Usage: ip", nil
		}
		return ipAddrSample, nil
	}}
	hosts := []*inventory.Host{{Alias: "good"}, {Alias: "bad"}, {Alias: "garbled"}}

	m, err := NewSSHSyncer(rec).Sync(context.Background(), hosts)

	var roe *util.RemoteOperationError
	if !errors.As(err, &roe) {
		t.Fatalf("Sync() error = %v, want RemoteOperationError", err)
	}
	if got := roe.Hosts(); !reflect.DeepEqual(got, []string{"bad", "garbled"}) {
		t.Errorf("failing hosts = %v", got)
	}
	if m.Host("good") == nil || len(m.Host("good").Devices) != 5 {
		t.Errorf("healthy host should still be synced: %+v", m)
	}

	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Tasks[0].Script != ipAddrCommand {
		t.Errorf("calls = %+v", calls)
	}
}

func TestParseDeviceHash(t *testing.T) {
	d, err := parseDeviceHash("eth0", map[string]string{
		"addresses": "10.0.0.5/24,fd00::5/64",
		"loopback":  "false",
	})
	if err != nil {
		t.Fatalf("parseDeviceHash() error: %v", err)
	}
	want := Device{Name: "eth0", Bindings: []Binding{
		{Addr: netip.MustParseAddr("10.0.0.5"), Prefix: netip.MustParsePrefix("10.0.0.0/24")},
		{Addr: netip.MustParseAddr("fd00::5"), Prefix: netip.MustParsePrefix("fd00::/64")},
	}}
	if !reflect.DeepEqual(d, want) {
		t.Errorf("parseDeviceHash() = %+v, want %+v", d, want)
	}

	if _, err := parseDeviceHash("eth0", map[string]string{"addresses": "nope"}); err == nil {
		t.Error("bad address should fail")
	}
}

func TestBindingFromIPNet(t *testing.T) {
	tests := []struct {
		n    *net.IPNet
		want string
		ok   bool
	}{
		{&net.IPNet{IP: net.ParseIP("10.0.0.5").To4(), Mask: net.CIDRMask(24, 32)}, "10.0.0.0/24", true},
		{&net.IPNet{IP: net.ParseIP("10.0.0.5"), Mask: net.CIDRMask(120, 128)}, "10.0.0.0/24", true},
		{&net.IPNet{IP: net.ParseIP("fd00::5"), Mask: net.CIDRMask(64, 128)}, "fd00::/64", true},
		{nil, "", false},
	}
	for _, tt := range tests {
		b, ok := bindingFromIPNet(tt.n)
		if ok != tt.ok {
			t.Errorf("bindingFromIPNet(%v) ok = %v", tt.n, ok)
			continue
		}
		if ok && b.Prefix.String() != tt.want {
			t.Errorf("bindingFromIPNet(%v) = %s, want %s", tt.n, b.Prefix, tt.want)
		}
	}
}

func TestLocalSyncer_SkipsRemoteHosts(t *testing.T) {
	m, err := LocalSyncer{}.Sync(context.Background(), []*inventory.Host{{Alias: "remote1"}})
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("remote hosts should be skipped, got %v", m.Aliases())
	}
}
