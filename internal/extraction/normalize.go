package extraction

import "strings"

// Normalize collapses every run of whitespace, line breaks included, into a
// single space and trims both ends. Token order and content are preserved.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
