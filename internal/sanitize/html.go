// Package sanitize strips markup from user-supplied free text before it
// is stored. Team names and cancellation reasons are plain text fields,
// so anything that survives a strict policy is anything at all we keep.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Text removes every HTML element and attribute from s and trims the
// surrounding whitespace. Escaped entities are left as the policy emits
// them, so "&amp;" stays "&amp;" rather than round-tripping to "&".
func Text(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}
