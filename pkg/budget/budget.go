// Package budget bounds text to a character budget while keeping its
// beginning and end readable.
package budget

import "unicode/utf8"

// Separator joins the kept head and tail of a truncated text.
const Separator = "\n...\n"

// maxTail caps how much of the end of a text is kept.
const maxTail = 1000

var sepLen = utf8.RuneCountInString(Separator)

// Truncate returns text limited to maxChars characters (runes).
// Text that already fits is returned unchanged. Longer text keeps a head
// and a tail joined by Separator.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(text)
	if n <= maxChars {
		return text
	}

	runes := []rune(text)
	if maxChars <= sepLen {
		return string(runes[:maxChars])
	}

	tail := min(maxTail, maxChars/3)
	head := maxChars - tail - sepLen
	if head <= 0 {
		head = maxChars / 2
		tail = maxChars - head - sepLen
		if tail < 0 {
			tail = 0
			head = maxChars - sepLen
		}
	}

	return string(runes[:head]) + Separator + string(runes[n-tail:])
}
