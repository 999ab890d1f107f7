// Package textchunk splits chapter text into ordered segments that fit a
// provider's character budget, preferring paragraph and sentence boundaries.
//
// Splitting is lossless: concatenating the returned chunks reproduces the
// input byte-for-byte, whitespace included. The same input and budget always
// produce the same boundaries, so an interrupted chapter can be re-dispatched
// deterministically.
package textchunk

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"weft/internal/services"
)

// Split divides text into chunks of at most maxChars runes each. Splits are
// attempted, in order of preference, at:
//  1. Paragraph boundaries (runs of blank lines)
//  2. Sentence-ending punctuation, including CJK forms
//  3. Hard cut at the rune budget
//
// A maxChars of zero or less is an error. Never splits inside a multi-byte
// character.
func Split(text string, maxChars int) ([]string, error) {
	if maxChars <= 0 {
		return nil, services.Wrap(services.ErrChunkOverflow, "chunk", "budget",
			fmt.Sprintf("chunk budget must be positive, got %d", maxChars), nil)
	}
	if text == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return []string{text}, nil
	}

	acc := accumulator{budget: maxChars}
	for _, paragraph := range splitParagraphs(text) {
		size := utf8.RuneCountInString(paragraph)
		if size <= maxChars {
			acc.add(paragraph, size)
			continue
		}
		for _, sentence := range splitSentences(paragraph) {
			size := utf8.RuneCountInString(sentence)
			if size <= maxChars {
				acc.add(sentence, size)
				continue
			}
			for _, piece := range hardSplit(sentence, maxChars) {
				acc.add(piece, utf8.RuneCountInString(piece))
			}
		}
	}
	return acc.finish(), nil
}

// accumulator greedily packs ordered segments into chunks under the budget.
type accumulator struct {
	budget int
	chunks []string
	buf    strings.Builder
	used   int
}

func (a *accumulator) add(segment string, size int) {
	if a.used > 0 && a.used+size > a.budget {
		a.chunks = append(a.chunks, a.buf.String())
		a.buf.Reset()
		a.used = 0
	}
	a.buf.WriteString(segment)
	a.used += size
}

func (a *accumulator) finish() []string {
	if a.used > 0 {
		a.chunks = append(a.chunks, a.buf.String())
	}
	return a.chunks
}

// splitParagraphs cuts text after each run of blank lines. Every boundary's
// whitespace stays attached to the preceding paragraph so the pieces
// concatenate back to the input exactly.
func splitParagraphs(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	var paragraphs []string
	var current strings.Builder
	trailingBlank := false

	for _, line := range lines {
		if line == "" {
			continue
		}
		blank := strings.TrimSpace(line) == ""
		if blank {
			current.WriteString(line)
			trailingBlank = true
			continue
		}
		if trailingBlank && current.Len() > 0 {
			paragraphs = append(paragraphs, current.String())
			current.Reset()
		}
		trailingBlank = false
		current.WriteString(line)
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs
}

// splitSentences cuts a paragraph after sentence-ending punctuation, keeping
// closing quotes and following whitespace attached to the finished sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isClosing(runes[end]) {
			end++
		}
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		sentences = append(sentences, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '」', '』', '）', ')', '】', '»':
		return true
	}
	return false
}

// hardSplit cuts text into pieces of at most maxChars runes with no regard
// for boundaries. Last resort for a sentence larger than the budget.
func hardSplit(text string, maxChars int) []string {
	runes := []rune(text)
	pieces := make([]string, 0, (len(runes)+maxChars-1)/maxChars)
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
