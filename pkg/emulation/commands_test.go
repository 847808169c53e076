package emulation

import (
	"net/netip"
	"reflect"
	"strings"
	"testing"
)

func TestCleanupCommand(t *testing.T) {
	want := "tc qdisc del dev eth0 root 2>/dev/null || true"
	if got := CleanupCommand("eth0"); got != want {
		t.Errorf("CleanupCommand() = %q, want %q", got, want)
	}
}

func TestFlatCommands(t *testing.T) {
	tests := []struct {
		name string
		imp  Impairment
		want string
	}{
		{"delay", Delayed(ms(30)), "tc qdisc add dev eth0 root netem delay 30ms"},
		{"all fields", Delayed(1500 * 1000).Merge(Limited(mustRate("100mbit"))).Merge(Lossy(0.5)),
			"tc qdisc add dev eth0 root netem delay 1500us rate 100mbit loss 0.5%"},
		{"none", Impairment{}, "tc qdisc add dev eth0 root netem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlatCommands(FlatEntry{Host: hostA, Device: "eth0", Impairment: tt.imp})
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("FlatCommands() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTBCommands(t *testing.T) {
	tree := DeviceTree{
		Host:        hostA,
		Device:      "eth0",
		DefaultRate: mustRate("10gbit"),
		Classes: []Class{
			{Minor: 10, Impairment: Delayed(ms(10)), Targets: []netip.Addr{addr("10.0.0.2"), addr("fd00::2")}},
			{Minor: 11, Impairment: Limited(mustRate("1mbit")), Targets: []netip.Addr{addr("10.0.0.3")}},
		},
	}
	want := []string{
		"tc qdisc add dev eth0 root handle 1: htb default 1",
		"tc class add dev eth0 parent 1: classid 1:1 htb rate 10gbit ceil 10gbit",
		"tc class add dev eth0 parent 1: classid 1:10 htb rate 10gbit ceil 10gbit prio 0",
		"tc qdisc add dev eth0 parent 1:10 handle 10: netem delay 10ms",
		"tc filter add dev eth0 parent 1: protocol ip prio 1 u32 match ip dst 10.0.0.2/32 flowid 1:10",
		"tc filter add dev eth0 parent 1: protocol ipv6 prio 2 u32 match ip6 dst fd00::2/128 flowid 1:10",
		"tc class add dev eth0 parent 1: classid 1:11 htb rate 1mbit ceil 1mbit prio 0",
		"tc filter add dev eth0 parent 1: protocol ip prio 1 u32 match ip dst 10.0.0.3/32 flowid 1:11",
	}
	if got := HTBCommands(tree); !reflect.DeepEqual(got, want) {
		t.Errorf("HTBCommands() =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestPlan_Scripts(t *testing.T) {
	p := BuildFlat([]ResolvedRule{
		rule(hostB, "eth0", "10.0.0.1", Delayed(ms(5))),
	})
	cleanup := map[string][]string{"a": {"eth1"}, "b": {"eth0"}}

	scripts := p.Scripts(cleanup, true)
	if len(scripts) != 2 || scripts[0].Alias != "a" || scripts[1].Alias != "b" {
		t.Fatalf("Scripts() = %+v", scripts)
	}
	if got := scripts[0].String(); got != "set -e\ntc qdisc del dev eth1 root 2>/dev/null || true\n" {
		t.Errorf("cleanup-only script = %q", got)
	}
	wantB := []string{
		"set -e",
		"tc qdisc del dev eth0 root 2>/dev/null || true",
		"tc qdisc add dev eth0 root netem delay 5ms",
	}
	if !reflect.DeepEqual(scripts[1].Lines, wantB) {
		t.Errorf("b script = %q", scripts[1].Lines)
	}

	disabled := p.Scripts(cleanup, false)
	for _, s := range disabled {
		for _, l := range s.Lines {
			if strings.Contains(l, " add ") {
				t.Errorf("disabled script installs: %q", l)
			}
		}
	}
}

func TestPlan_Describe(t *testing.T) {
	p := BuildHTB([]ResolvedRule{rule(hostA, "eth0", "10.0.0.2", Delayed(ms(10)))}, DefaultHTBOptions())
	got := p.Describe()
	for _, want := range []string{"mode htb", "a/eth0: default 1:1 rate 10gbit", "1:10 delay 10ms -> 10.0.0.2"} {
		if !strings.Contains(got, want) {
			t.Errorf("Describe() missing %q:\n%s", want, got)
		}
	}
}
