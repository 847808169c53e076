package util

import (
	"net/netip"
	"testing"
)

func TestParseIPWithMask(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid /24", "192.168.1.100/24", "192.168.1.100/24", false},
		{"valid v6", "fd00::1/64", "fd00::1/64", false},
		{"bare v4", "10.0.0.1", "10.0.0.1/32", false},
		{"bare v6", "fd00::1", "fd00::1/128", false},
		{"invalid - bad IP", "999.999.999.999/24", "", true},
		{"invalid - empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIPWithMask(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIPWithMask(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseIPWithMask(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestHostPrefix(t *testing.T) {
	if got := HostPrefix(netip.MustParseAddr("10.0.0.1")); got != "10.0.0.1/32" {
		t.Errorf("HostPrefix v4 = %s", got)
	}
	if got := HostPrefix(netip.MustParseAddr("fd00::1")); got != "fd00::1/128" {
		t.Errorf("HostPrefix v6 = %s", got)
	}
}

func TestIsRoutableTarget(t *testing.T) {
	excluded := []netip.Addr{DockerBridgeGateway}
	tests := []struct {
		addr string
		want bool
	}{
		{"203.0.113.5", true},
		{"172.17.0.1", false},
		{"127.0.0.1", false},
		{"::1", false},
		{"fe80::1", false},
		{"0.0.0.0", false},
		{"fd00::5", true},
	}
	for _, tt := range tests {
		if got := IsRoutableTarget(netip.MustParseAddr(tt.addr), excluded); got != tt.want {
			t.Errorf("IsRoutableTarget(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
