// Package normalize canonicalises user input before it is stored or
// compared.
package normalize

import (
	"strings"
	"unicode/utf8"
)

// MaxBodyRunes is the longest message body accepted, in characters.
const MaxBodyRunes = 4000

// Email returns a normalized form of an email address suitable for
// storage and comparisons: trimmed and lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Body trims surrounding whitespace from a message body. Inner newlines
// and spacing are kept as typed. ok is false when the result is empty or
// longer than MaxBodyRunes.
func Body(b string) (body string, ok bool) {
	body = strings.TrimSpace(b)
	if body == "" || utf8.RuneCountInString(body) > MaxBodyRunes {
		return body, false
	}
	return body, true
}

// ID trims an opaque identifier taken from a request.
func ID(id string) string {
	return strings.TrimSpace(id)
}
