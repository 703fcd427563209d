package catalog

import (
	"unicode"

	"github.com/rivo/uniseg"
)

// GlyphValidator accepts strings that render as exactly one user-perceived
// character, such as a single emoji including its modifiers and joiners.
type GlyphValidator struct{}

// IsValidGlyph reports whether s is one grapheme cluster that is not
// whitespace or a control character.
func (GlyphValidator) IsValidGlyph(s string) bool {
	if s == "" || uniseg.GraphemeClusterCount(s) != 1 {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
