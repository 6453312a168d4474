// Package normalize canonicalizes business names and phone numbers into
// comparable keys for deduplication. Both functions are pure and total:
// garbage in yields an empty key, never an error.
package normalize

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/unicode/norm"
)

// defaultRegion is the region hint for national-format phone numbers.
// The target market is Paraguay.
const defaultRegion = "PY"

// NameKey produces the canonical matching key for a business name:
// NFC-normalized, lowercase, letters and digits only (diacritics kept,
// the corpus is Spanish), runs of whitespace collapsed to one space.
func NameKey(name string) string {
	s := norm.NFC.String(name)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// PhoneDigits produces the digits-only canonical form of a phone number.
// Valid numbers are first normalized to E.164 so that national and
// international spellings of the same number collide ("0981 234 567" and
// "+595 981 234567" both become "595981234567"). Anything unparseable
// falls back to a plain digit strip; no digits yields the empty string.
func PhoneDigits(phone string) string {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return ""
	}

	if parsed, err := phonenumbers.Parse(trimmed, defaultRegion); err == nil {
		if phonenumbers.IsValidNumber(parsed) {
			return digitsOf(phonenumbers.Format(parsed, phonenumbers.E164))
		}
	}
	return digitsOf(trimmed)
}

func digitsOf(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
