package index

import (
	"strings"
	"unicode"
)

// Tokenize lowercases s and splits it on every rune that is not a letter or
// a digit. Single-rune tokens are kept so that short titles ("X", "B") stay
// findable. There is no stemming, so "servers" and "server" are different
// terms.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// terms returns the distinct tokens of s in first-seen order.
func terms(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(s) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
