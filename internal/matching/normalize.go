// Package matching canonicalizes work-order numbers and matches OCR
// candidates against open work orders.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a work-order number for comparison. Compatibility
// forms (full-width digits, ligatures) are folded, accents dropped, letters
// lowercased, and every rune outside [a-z0-9] removed. The result is stable
// under repeated application; "" never matches anything.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	// Transformers carry state, so each call builds its own chain.
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(fold, raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePtr normalizes an optional value; nil normalizes to "".
func NormalizePtr(raw *string) string {
	if raw == nil {
		return ""
	}
	return Normalize(*raw)
}
