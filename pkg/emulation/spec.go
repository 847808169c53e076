package emulation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbkit-project/tbkit/pkg/util"
)

// Spec is the declarative emulation file:
//
//	name: wan
//	mode: htb
//	default_delay: 20ms
//	default_rate: 1gbit
//	except: [monitor]
//	constraints:
//	  - src: paris
//	    dst: londres
//	    delay: 10ms
//	    symmetric: true
type Spec struct {
	Name           string           `yaml:"name,omitempty"`
	Enable         *bool            `yaml:"enable,omitempty"`
	Mode           string           `yaml:"mode,omitempty"`
	DefaultDelay   string           `yaml:"default_delay,omitempty"`
	DefaultRate    string           `yaml:"default_rate,omitempty"`
	DefaultLoss    string           `yaml:"default_loss,omitempty"`
	Except         []string         `yaml:"except,omitempty"`
	Groups         []string         `yaml:"groups,omitempty"`
	DefaultNetwork string           `yaml:"default_network,omitempty"`
	Constraints    []ConstraintSpec `yaml:"constraints,omitempty"`
}

// ConstraintSpec is one explicit entry of a Spec.
type ConstraintSpec struct {
	Src       string `yaml:"src"`
	Dst       string `yaml:"dst"`
	Delay     string `yaml:"delay,omitempty"`
	Rate      string `yaml:"rate,omitempty"`
	Loss      string `yaml:"loss,omitempty"`
	Symmetric bool   `yaml:"symmetric,omitempty"`
	Network   string `yaml:"network,omitempty"`
}

// LoadSpec reads an emulation file. A missing name is taken from the file
// name.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read emulation spec: %w", err)
	}
	s, err := ParseSpec(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// ParseSpec decodes and checks an emulation document.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse emulation spec: %w", err)
	}
	if _, _, err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Enabled reports whether the emulation should be installed. It defaults
// to true.
func (s *Spec) Enabled() bool {
	return s.Enable == nil || *s.Enable
}

// PlanMode returns the requested mode, htb by default.
func (s *Spec) PlanMode() (Mode, error) {
	return ParseMode(s.Mode)
}

// Defaults returns the default impairment and exclusions.
func (s *Spec) Defaults() (Defaults, error) {
	def, _, err := s.compile()
	return def, err
}

// Explicit returns the explicit constraints in file order.
func (s *Spec) Explicit() ([]ExplicitConstraint, error) {
	_, explicit, err := s.compile()
	return explicit, err
}

func (s *Spec) compile() (Defaults, []ExplicitConstraint, error) {
	var vb util.ValidationBuilder

	if _, err := ParseMode(s.Mode); err != nil {
		vb.AddErrorf("mode: %v", err)
	}
	def := Defaults{
		Impairment: parseImpairment(&vb, "default", s.DefaultDelay, s.DefaultRate, s.DefaultLoss),
		Except:     s.Except,
		Network:    s.DefaultNetwork,
	}

	explicit := make([]ExplicitConstraint, len(s.Constraints))
	for i, c := range s.Constraints {
		where := fmt.Sprintf("constraints[%d]", i)
		vb.Add(c.Src != "", where+": src is required")
		vb.Add(c.Dst != "", where+": dst is required")
		explicit[i] = ExplicitConstraint{
			Src:        c.Src,
			Dst:        c.Dst,
			Impairment: parseImpairment(&vb, where, c.Delay, c.Rate, c.Loss),
			Symmetric:  c.Symmetric,
			Network:    c.Network,
		}
	}

	if err := vb.Build(); err != nil {
		return Defaults{}, nil, err
	}
	return def, explicit, nil
}

func parseImpairment(vb *util.ValidationBuilder, where, delay, rate, loss string) Impairment {
	var imp Impairment
	if delay != "" {
		if d, err := ParseDelay(delay); err != nil {
			vb.AddErrorf("%s: %v", where, err)
		} else {
			imp = imp.Merge(Delayed(d))
		}
	}
	if rate != "" {
		if r, err := ParseRate(rate); err != nil {
			vb.AddErrorf("%s: %v", where, err)
		} else {
			imp = imp.Merge(Limited(r))
		}
	}
	if loss != "" {
		if l, err := ParseLoss(loss); err != nil {
			vb.AddErrorf("%s: %v", where, err)
		} else {
			imp = imp.Merge(Lossy(l))
		}
	}
	return imp
}
