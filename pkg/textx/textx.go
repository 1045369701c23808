// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeText removes C0 and C1 control characters except tab/newline/CR
// and trims spaces.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Sanitize cleans s and truncates it to at most maxRunes runes (no limit when
// maxRunes <= 0). Sanitize(Sanitize(s, n), n) == Sanitize(s, n).
func Sanitize(s string, maxRunes int) string {
	out := SanitizeText(s)
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	n := 0
	for i := range out {
		if n == maxRunes {
			return strings.TrimSpace(out[:i])
		}
		n++
	}
	return out
}

// Normalize lowercases, trims and collapses whitespace runs to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
