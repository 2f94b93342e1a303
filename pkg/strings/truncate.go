package strings

import (
	"strings"
)

// DefaultPreviewLen is the preview width used in logs and status output.
const DefaultPreviewLen = 60

// minPreviewLen leaves room for one character and the ellipsis.
const minPreviewLen = 4

// Preview flattens s onto a single line and shortens it to at most maxLen
// runes, ending in "..." when something was cut. Runs of whitespace,
// newlines included, collapse to one space.
func Preview(s string, maxLen int) string {
	if maxLen < minPreviewLen {
		maxLen = minPreviewLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
