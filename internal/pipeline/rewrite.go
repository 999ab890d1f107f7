package pipeline

import (
	"regexp"
	"strings"
	"unicode"
)

// rewriteTranslation replaces every occurrence of old with new across the
// translated lines, matching case-insensitively and mapping each matched
// word's casing onto the replacement word by word. "MATEER rose" with
// replacement "Martel" becomes "MARTEL rose".
func rewriteTranslation(lines []string, old, new string) []string {
	old = strings.TrimSpace(old)
	if old == "" || old == new {
		return lines
	}
	pattern := regexp.MustCompile("(?i)" + regexp.QuoteMeta(old))

	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = pattern.ReplaceAllStringFunc(line, func(matched string) string {
			return matchCase(matched, new)
		})
	}
	return out
}

func matchCase(matched, replacement string) string {
	oldWords := strings.Fields(matched)
	newWords := strings.Fields(replacement)

	n := len(oldWords)
	if len(newWords) > n {
		n = len(newWords)
	}
	transformed := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var oldWord, newWord string
		if i < len(oldWords) {
			oldWord = oldWords[i]
		}
		if i < len(newWords) {
			newWord = newWords[i]
		}
		switch {
		case newWord == "":
		case oldWord == "":
			transformed = append(transformed, newWord)
		case isUpperWord(oldWord):
			transformed = append(transformed, strings.ToUpper(newWord))
		case isTitleWord(oldWord):
			transformed = append(transformed, titleWord(newWord))
		case isLowerWord(oldWord):
			transformed = append(transformed, strings.ToLower(newWord))
		default:
			transformed = append(transformed, newWord)
		}
	}
	return strings.TrimSpace(strings.Join(transformed, " "))
}

func isUpperWord(word string) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isLowerWord(word string) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isTitleWord(word string) bool {
	runes := []rune(word)
	seenFirst := false
	for _, r := range runes {
		if !unicode.IsLetter(r) {
			continue
		}
		if !seenFirst {
			if !unicode.IsUpper(r) {
				return false
			}
			seenFirst = true
			continue
		}
		if !unicode.IsLower(r) {
			return false
		}
	}
	return seenFirst
}

func titleWord(word string) string {
	runes := []rune(strings.ToLower(word))
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
	}
	return string(runes)
}
