package chunk

import (
	"regexp"
	"strings"
)

var (
	spaceRe   = regexp.MustCompile(`[ \t]+`)
	newlineRe = regexp.MustCompile(`\n\s*\n\s*\n+`)
	controlRe = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
)

// Clean normalizes raw extracted text before chunking: collapses runs of
// spaces and tabs, limits consecutive blank lines to one, and strips
// control characters other than newline and tab.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = controlRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	text = newlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
