package entity

import (
	"math"
	"sort"
	"strings"
)

// roundNum rounds to two decimal places so floating noise (7.0000001 vs 7)
// collapses to one canonical value.
func roundNum(v float64) float64 {
	return math.Round(v*100) / 100
}

// normText trims surrounding whitespace and lowercases.
func normText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normTags normalizes each element, drops empties and duplicates, and sorts.
func normTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := normText(t)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// bucketMs truncates a millisecond timestamp to the second so sub-second
// jitter between two captures of the same moment hashes identically.
func bucketMs(ms int64) int64 {
	return ms - ms%1000
}
