package reconciler

import (
	"strings"
	"unicode"
)

// FallbackSlug is used when a name has no letters or digits.
const FallbackSlug = "conversation"

// Slugify derives the temporary id of an optimistic create from its name.
// The name is lowercased, every run of characters other than letters and
// digits becomes a single "-", and leading or trailing separators are dropped.
// Equal names always give equal ids, so duplicate creates collide.
func Slugify(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return FallbackSlug
	}
	return b.String()
}
