// Package sizenorm normalizes RMS size labels ("talla") to a canonical
// decimal form (§4.9). It is a pure function with no I/O and no config,
// the same leaf-function shape the teacher uses for its tax-rate rounding
// helpers in internal/core.
package sizenorm

import "strings"

// fractionTable maps the unicode fraction runes the RMS export is known
// to emit to their decimal suffix.
var fractionTable = map[rune]string{
	'½': ".5",
	'¼': ".25",
	'¾': ".75",
	'⅓': ".33",
	'⅔': ".67",
	'⅛': ".125",
	'⅜': ".375",
	'⅝': ".625",
	'⅞': ".875",
}

// Normalize implements the SizeNormalizer contract of §4.9: substitute any
// unicode fraction rune in place, trim surrounding whitespace, swap a
// comma decimal separator for a dot, and otherwise leave the value alone
// ("M", "XL", "38/40" pass through unchanged, slashes preserved).
//
// original is non-empty only when the canonical value differs from the
// trimmed raw input, so callers can emit the rms.talla_original metafield
// only when there is something to preserve.
func Normalize(raw string) (canonical string, original string) {
	trimmed := strings.TrimSpace(raw)

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if suffix, ok := fractionTable[r]; ok {
			b.WriteString(suffix)
			continue
		}
		b.WriteRune(r)
	}
	substituted := b.String()

	canonical = strings.ReplaceAll(substituted, ",", ".")

	if canonical != trimmed {
		original = trimmed
	}
	return canonical, original
}
