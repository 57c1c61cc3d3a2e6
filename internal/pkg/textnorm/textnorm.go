package textnorm

import "strings"

// Normalize produces the canonical form of a query used as the memory
// idempotency key: trimmed, internal whitespace collapsed to single spaces,
// case-folded.
func Normalize(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, " "))
}
