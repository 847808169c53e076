package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxRangeValues bounds how many values one range specification may expand to.
const MaxRangeValues = 65536

// ExpandRange expands a range specification into individual values
// Supports formats like:
//   - "1-5" -> [1, 2, 3, 4, 5]
//   - "1,3,5" -> [1, 3, 5]
//   - "1-3,5,7-9" -> [1, 2, 3, 5, 7, 8, 9]
//
// A specification yielding more than MaxRangeValues values is an error.
func ExpandRange(spec string) ([]int, error) {
	if spec == "" {
		return nil, nil
	}

	var result []int
	parts := strings.Split(spec, ",")

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			// Range: "1-5"
			rangeParts := strings.SplitN(part, "-", 2)
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid range format: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start value in range %s: %v", part, err)
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end value in range %s: %v", part, err)
			}

			if start > end {
				return nil, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, part)
			}

			if n := end - start; n >= MaxRangeValues || len(result)+n >= MaxRangeValues {
				return nil, fmt.Errorf("range %s exceeds %d values", part, MaxRangeValues)
			}
			for i := start; i <= end; i++ {
				result = append(result, i)
			}
		} else {
			// Single value
			val, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value: %s", part)
			}
			if len(result) >= MaxRangeValues {
				return nil, fmt.Errorf("range %s exceeds %d values", spec, MaxRangeValues)
			}
			result = append(result, val)
		}
	}

	// Sort and deduplicate
	sort.Ints(result)
	return dedupInts(result), nil
}

// ExpandPaddedRange is ExpandRange rendered as strings. A bound written with
// a leading zero ("01-10") fixes the width of every value: "01", ..., "10".
func ExpandPaddedRange(spec string) ([]string, error) {
	nums, err := ExpandRange(spec)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("empty range")
	}
	for _, n := range nums {
		if n < 0 {
			return nil, fmt.Errorf("negative value %d in range %s", n, spec)
		}
	}

	width := 0
	for _, tok := range strings.FieldsFunc(spec, func(r rune) bool { return r == ',' || r == '-' }) {
		tok = strings.TrimSpace(tok)
		if len(tok) > 1 && tok[0] == '0' && len(tok) > width {
			width = len(tok)
		}
	}

	result := make([]string, len(nums))
	for i, n := range nums {
		result[i] = fmt.Sprintf("%0*d", width, n)
	}
	return result, nil
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	result := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
