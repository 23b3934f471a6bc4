// Package content normalises user supplied text (chat messages, circle
// names). Text is stored and sent exactly as typed after trimming; frames
// are JSON, so escaping belongs to whoever renders them.
package content

import (
	"strings"
	"unicode/utf8"
)

// Clean trims surrounding whitespace and replaces invalid UTF-8 sequences
// with U+FFFD.
func Clean(input string) string {
	return strings.TrimSpace(strings.ToValidUTF8(input, string(utf8.RuneError)))
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
