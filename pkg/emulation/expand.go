package emulation

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/tbkit-project/tbkit/pkg/util"
)

// Expand turns a group pattern into concrete group names.
//
//   - a literal name is returned unchanged, known or not
//   - "name[a-b]" is the inclusive numeric range a..b; "g[1,3,5-6]" lists
//     and ranges mix; "n[01-03]" keeps the zero padding
//   - several bracket groups expand as a Cartesian product, left to right
//   - "*" and "?" match against known; a wildcard matching nothing is
//     returned unchanged so the caller reports it as unknown
//
// Malformed brackets, or brackets expanding to more than util.MaxRangeValues
// names, return a PatternSyntaxError and no names.
func Expand(pattern string, known []string) ([]string, error) {
	names, err := expandBrackets(pattern)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range names {
		if !strings.ContainsAny(name, "*?") {
			out = append(out, name)
			continue
		}
		matched, err := matchWildcard(pattern, name, known)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			out = append(out, name)
			continue
		}
		out = append(out, matched...)
	}
	return util.DedupStrings(out), nil
}

// ExpandAll expands every pattern and returns the names in order, once each.
func ExpandAll(patterns []string, known []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		names, err := Expand(p, known)
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return util.DedupStrings(out), nil
}

func expandBrackets(pattern string) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, util.NewPatternSyntaxError(pattern, "empty pattern")
	}

	names := []string{""}
	rest := pattern
	for rest != "" {
		open := strings.IndexByte(rest, '[')
		closing := strings.IndexByte(rest, ']')
		if open < 0 {
			if closing >= 0 {
				return nil, util.NewPatternSyntaxError(pattern, "unbalanced ']'")
			}
			names = appendSuffix(names, []string{rest})
			break
		}
		if closing >= 0 && closing < open {
			return nil, util.NewPatternSyntaxError(pattern, "unbalanced ']'")
		}
		if closing < 0 {
			return nil, util.NewPatternSyntaxError(pattern, "unbalanced '['")
		}

		body := rest[open+1 : closing]
		if strings.IndexByte(body, '[') >= 0 {
			return nil, util.NewPatternSyntaxError(pattern, "nested '['")
		}
		if strings.TrimSpace(body) == "" {
			return nil, util.NewPatternSyntaxError(pattern, "empty range")
		}
		suffixes, err := util.ExpandPaddedRange(body)
		if err != nil {
			return nil, util.NewPatternSyntaxError(pattern, err.Error())
		}

		if len(names)*len(suffixes) > util.MaxRangeValues {
			return nil, util.NewPatternSyntaxError(pattern, fmt.Sprintf("expands to more than %d names", util.MaxRangeValues))
		}
		names = appendSuffix(names, []string{rest[:open]})
		names = appendSuffix(names, suffixes)
		rest = rest[closing+1:]
	}
	return names, nil
}

func appendSuffix(prefixes, suffixes []string) []string {
	out := make([]string, 0, len(prefixes)*len(suffixes))
	for _, p := range prefixes {
		for _, s := range suffixes {
			out = append(out, p+s)
		}
	}
	return out
}

func matchWildcard(pattern, name string, known []string) ([]string, error) {
	sorted := append([]string(nil), known...)
	sort.Strings(sorted)

	var matched []string
	for _, k := range sorted {
		ok, err := path.Match(name, k)
		if err != nil {
			return nil, util.NewPatternSyntaxError(pattern, err.Error())
		}
		if ok {
			matched = append(matched, k)
		}
	}
	return matched, nil
}
