package grading

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fold trims surrounding whitespace and applies Unicode case folding.
// A Caser keeps state, so one is made per call.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Equivalent reports whether two answers match after folding.
func Equivalent(a, b string) bool {
	return Fold(a) == Fold(b)
}
