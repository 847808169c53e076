package emulation

import (
	"sort"

	"github.com/tbkit-project/tbkit/pkg/util"
)

// Defaults is the impairment applied between every pair of groups, and the
// groups left out of the full mesh.
type Defaults struct {
	Impairment Impairment
	Except     []string // group patterns
	Network    string   // logical network, "" for all
}

// ExplicitConstraint overrides the impairment between the groups matched by
// Src and Dst. Only the fields set in Impairment are overridden.
type ExplicitConstraint struct {
	Src        string
	Dst        string
	Impairment Impairment
	Symmetric  bool
	Network    string
}

// GroupConstraint is the impairment from one group to another.
type GroupConstraint struct {
	Src        string
	Dst        string
	Impairment Impairment
	Network    string
}

type pair struct{ src, dst string }

// constraintSet keeps one constraint per ordered pair in insertion order.
type constraintSet struct {
	index map[pair]int
	list  []GroupConstraint
}

func (s *constraintSet) merge(src, dst string, imp Impairment, network string) Impairment {
	p := pair{src, dst}
	i, ok := s.index[p]
	if !ok {
		s.index[p] = len(s.list)
		s.list = append(s.list, GroupConstraint{Src: src, Dst: dst, Impairment: imp, Network: network})
		return imp
	}
	c := &s.list[i]
	c.Impairment = c.Impairment.Merge(imp)
	if network != "" {
		c.Network = network
	}
	return c.Impairment
}

// Normalize compiles defaults and explicit overrides into one constraint per
// ordered group pair.
//
// Every ordered pair of distinct groups outside Except gets the default
// impairment, with loss 0 when unset. Explicit entries are then merged in
// order, field by field. A symmetric entry also merges its result into the
// mirrored pair, unless that pair is named directly by some explicit entry:
// direct entries beat mirrors wherever they appear in the list.
//
// Groups named by a pattern but absent from groups yield an
// UnknownGroupError. The output order is deterministic.
func Normalize(groups []string, def Defaults, explicit []ExplicitConstraint) ([]GroupConstraint, error) {
	known := util.DedupStrings(groups)
	sort.Strings(known)
	isKnown := make(map[string]bool, len(known))
	for _, g := range known {
		isKnown[g] = true
	}

	resolve := func(pattern string) ([]string, error) {
		names, err := Expand(pattern, known)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if !isKnown[n] {
				return nil, util.NewUnknownGroupError(n, pattern)
			}
		}
		return names, nil
	}

	excluded := make(map[string]bool)
	for _, pattern := range def.Except {
		names, err := resolve(pattern)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			excluded[n] = true
		}
	}

	type expanded struct {
		ExplicitConstraint
		srcs, dsts []string
	}
	entries := make([]expanded, len(explicit))
	direct := make(map[pair]bool)
	for i, e := range explicit {
		srcs, err := resolve(e.Src)
		if err != nil {
			return nil, err
		}
		dsts, err := resolve(e.Dst)
		if err != nil {
			return nil, err
		}
		entries[i] = expanded{ExplicitConstraint: e, srcs: srcs, dsts: dsts}
		for _, s := range srcs {
			for _, d := range dsts {
				direct[pair{s, d}] = true
			}
		}
	}

	set := &constraintSet{index: make(map[pair]int)}

	base := def.Impairment
	if base.Loss == nil {
		base = base.Merge(Lossy(0))
	}
	for _, g1 := range known {
		if excluded[g1] {
			continue
		}
		for _, g2 := range known {
			if g1 == g2 || excluded[g2] {
				continue
			}
			set.merge(g1, g2, base, def.Network)
		}
	}

	for _, e := range entries {
		for _, s := range e.srcs {
			for _, d := range e.dsts {
				network := e.Network
				if network == "" {
					network = def.Network
				}
				result := set.merge(s, d, e.Impairment, network)
				if !e.Symmetric || s == d {
					continue
				}
				if direct[pair{d, s}] {
					util.WithFields(map[string]interface{}{"src": d, "dst": s}).
						Debug("explicit constraint takes precedence over symmetric mirror")
					continue
				}
				set.merge(d, s, result, network)
			}
		}
	}

	return set.list, nil
}
