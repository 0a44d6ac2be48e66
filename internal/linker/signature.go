package linker

import (
	"strings"
	"unicode"
)

// Signature builds the normalized cache key for a title/author pair.
// Case, punctuation and extra whitespace never produce distinct entries.
func Signature(title, author string) string {
	return normalize(title) + "|" + normalize(author)
}

// normalize lowercases, strips punctuation and collapses whitespace
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) && !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
