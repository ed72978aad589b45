// Package strings holds small helpers for cleaning operator-supplied string
// lists, such as comma-separated broker addresses from the environment.
package strings

import (
	"strings"
)

// DedupeAndTrim trims whitespace from every element and drops empties and
// duplicates, keeping first-occurrence order. The result is safe to hand to
// clients that choke on blank or repeated entries.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
