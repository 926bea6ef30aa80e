// Package htmlsanitize strips markup from user-supplied profile text.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element and attribute.
var strict = bluemonday.StrictPolicy()

// PlainText strips all HTML from s and trims the result. Entities that
// bluemonday escapes are turned back into text so "O'Brien" stays intact.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
