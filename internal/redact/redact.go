// Package redact masks personal data in text that ends up in logs, such as
// daemon error bodies that echo the text being synthesized.
package redact

import (
	"regexp"
	"unicode/utf8"
)

// MaxLogLen bounds the length of redacted text written to logs.
const MaxLogLen = 512

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// PII masks email addresses, card numbers and phone numbers.
func PII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones so long digit runs are not classified as phones.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// ForLog redacts input and truncates it to MaxLogLen bytes on a rune
// boundary.
func ForLog(input string) string {
	out, _ := PII(input)
	if len(out) <= MaxLogLen {
		return out
	}
	cut := MaxLogLen
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + "...(truncated)"
}
