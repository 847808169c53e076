package inventory

import (
	"net/netip"
	"reflect"
	"testing"
)

func hosts(aliases ...string) []*Host {
	out := make([]*Host, len(aliases))
	for i, a := range aliases {
		out[i] = &Host{Alias: a, Address: a + ".example.net"}
	}
	return out
}

func TestHostSet_SetAlgebra(t *testing.T) {
	hs := hosts("h1", "h2", "h3")
	a := NewHostSet(hs[0], hs[1])
	b := NewHostSet(hs[1], hs[2])

	tests := []struct {
		name string
		got  *HostSet
		want []string
	}{
		{"union", a.Union(b), []string{"h1", "h2", "h3"}},
		{"intersect", a.Intersect(b), []string{"h2"}},
		{"difference", a.Difference(b), []string{"h1"}},
		{"union with nil", a.Union(nil), []string{"h1", "h2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got.Aliases(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if a.Len() != 2 {
		t.Errorf("operations must not modify operands, a.Len() = %d", a.Len())
	}
}

func TestHostSet_SortedProjection(t *testing.T) {
	hs := hosts("zeta", "alpha", "mid")
	s := NewHostSet(hs...)

	sorted := s.Sorted()
	var got []string
	for _, h := range sorted {
		got = append(got, h.Alias)
	}
	if want := []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}
	if sorted[0] != hs[1] {
		t.Error("Sorted() should return the stored host pointers")
	}
}

func TestHostSet_AddReplacesSameAlias(t *testing.T) {
	s := NewHostSet(&Host{Alias: "h1", Address: "10.0.0.1"})
	s.Add(&Host{Alias: "h1", Address: "10.0.0.9"})
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	h, ok := s.Get("h1")
	if !ok || h.Address != "10.0.0.9" {
		t.Errorf("Get(h1) = %v, %v", h, ok)
	}
}

func TestHostSet_NilSafe(t *testing.T) {
	var s *HostSet
	if s.Len() != 0 || s.Contains("x") || s.Aliases() != nil {
		t.Error("nil HostSet should behave as empty")
	}
	if _, ok := s.Get("x"); ok {
		t.Error("nil HostSet Get should miss")
	}
}

func TestRoles(t *testing.T) {
	hs := hosts("h1", "h2", "h3")
	roles := Roles{}
	roles.Add("paris", hs[0])
	roles.Add("berlin", hs[1])
	roles.Add("compute", hs[0], hs[1], hs[2])

	if got, want := roles.Names(), []string{"berlin", "compute", "paris"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if got := roles.All().Len(); got != 3 {
		t.Errorf("All().Len() = %d, want 3", got)
	}
	if !roles["compute"].Contains("h3") {
		t.Error("compute should contain h3")
	}
}

func TestNetworks_Containing(t *testing.T) {
	nets := Networks{
		"prod":  {netip.MustParsePrefix("10.0.0.0/16")},
		"lab":   {netip.MustParsePrefix("10.0.1.0/24"), netip.MustParsePrefix("fd00::/64")},
		"other": {netip.MustParsePrefix("192.168.0.0/24")},
	}

	tests := []struct {
		addr string
		want []string
	}{
		{"10.0.1.7", []string{"lab", "prod"}},
		{"10.0.2.7", []string{"prod"}},
		{"fd00::3", []string{"lab"}},
		{"203.0.113.1", nil},
	}
	for _, tt := range tests {
		if got := nets.Containing(netip.MustParseAddr(tt.addr)); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Containing(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
