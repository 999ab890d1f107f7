package pipeline

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeText applies NFC so composed and decomposed forms of the same
// characters compare equal during substring matching.
func normalizeText(text string) string {
	return norm.NFC.String(text)
}

// countOccurrences counts non-overlapping occurrences of key in already
// normalized text.
func countOccurrences(normalized, key string) int {
	key = strings.TrimSpace(norm.NFC.String(key))
	if key == "" {
		return 0
	}
	return strings.Count(normalized, key)
}
