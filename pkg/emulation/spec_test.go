package emulation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbkit-project/tbkit/pkg/util"
)

const citiesSpec = `
mode: htb
default_delay: 20ms
default_loss: "0.1%"
except: [monitor]
constraints:
  - src: paris
    dst: londres
    delay: 10ms
    symmetric: true
  - src: berlin
    dst: "*"
    rate: 100mbit
    network: wan
`

func TestParseSpec(t *testing.T) {
	s, err := ParseSpec([]byte(citiesSpec))
	if err != nil {
		t.Fatalf("ParseSpec() error: %v", err)
	}
	if !s.Enabled() {
		t.Error("enable should default to true")
	}
	if mode, _ := s.PlanMode(); mode != ModeHTB {
		t.Errorf("mode = %s", mode)
	}

	def, err := s.Defaults()
	if err != nil {
		t.Fatal(err)
	}
	if def.Impairment.Key() != "delay=20ms rate=- loss=0.1%" || len(def.Except) != 1 {
		t.Errorf("defaults = %s except %v", def.Impairment.Key(), def.Except)
	}

	explicit, err := s.Explicit()
	if err != nil {
		t.Fatal(err)
	}
	if len(explicit) != 2 {
		t.Fatalf("explicit = %+v", explicit)
	}
	if !explicit[0].Symmetric || explicit[0].Impairment.Key() != "delay=10ms rate=- loss=-" {
		t.Errorf("explicit[0] = %+v", explicit[0])
	}
	if explicit[1].Network != "wan" || explicit[1].Impairment.Key() != "delay=- rate=100mbit loss=-" {
		t.Errorf("explicit[1] = %+v", explicit[1])
	}
}

func TestParseSpec_Disabled(t *testing.T) {
	s, err := ParseSpec([]byte("enable: false\nmode: flat\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Error("enable: false not honoured")
	}
	if mode, _ := s.PlanMode(); mode != ModeFlat {
		t.Errorf("mode = %s", mode)
	}
}

func TestParseSpec_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"bad mode", "mode: cbq\n", []string{"cbq"}},
		{"bad default delay", "default_delay: soon\n", []string{"default", "soon"}},
		{"sub-microsecond delay", "constraints:\n  - src: a\n    dst: b\n    delay: 500ns\n", []string{"constraints[0]", "500ns"}},
		{"missing dst", "constraints:\n  - src: a\n", []string{"constraints[0]: dst is required"}},
		{"several errors", "default_rate: fast\nconstraints:\n  - src: a\n    dst: b\n    loss: 150\n",
			[]string{"fast", "constraints[0]", "150"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpec([]byte(tt.doc))
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Fatalf("ParseSpec() error = %v, want validation error", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}

	if _, err := ParseSpec([]byte("constraints: {")); err == nil {
		t.Error("malformed YAML should fail")
	}
}

func TestLoadSpec_NameFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wan-lab.yaml")
	if err := os.WriteFile(path, []byte(citiesSpec), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("LoadSpec() error: %v", err)
	}
	if s.Name != "wan-lab" {
		t.Errorf("Name = %q", s.Name)
	}

	named := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(named, []byte("name: custom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if s, err := LoadSpec(named); err != nil || s.Name != "custom" {
		t.Errorf("LoadSpec() = %+v, %v", s, err)
	}

	if _, err := LoadSpec(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
