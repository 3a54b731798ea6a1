package files

import (
	"regexp"
	"strings"
)

// Ext is the fixed output extension regardless of source codec.
const Ext = ".mp3"

const maxStemLen = 100

var (
	unsafeChars = regexp.MustCompile(`[^\w\s\-]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SafeName turns an arbitrary title into a safe, length-bounded
// filesystem name. Deterministic: distinct titles may collide, callers
// resolve collisions with a remove-then-rename policy.
func SafeName(title string) string {
	name := unsafeChars.ReplaceAllString(title, "")
	name = strings.TrimSpace(name)
	name = spaceRuns.ReplaceAllString(name, "_")
	stem := []rune(name)
	if len(stem) > maxStemLen {
		stem = stem[:maxStemLen]
	}
	return string(stem) + Ext
}
