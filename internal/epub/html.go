package epub

import (
	"html"
	"regexp"
	"strings"
)

var (
	blockBoundary = regexp.MustCompile(`(?is)<\s*(?:/\s*)?(?:p|div|h[1-6]|li|tr|section|article|blockquote)\b[^>]*>|<\s*br\s*/?\s*>`)
	dropBlocks    = regexp.MustCompile(`(?is)<\s*(script|style|head)\b[^>]*>.*?<\s*/\s*\w+\s*>`)
	anyTag        = regexp.MustCompile(`(?s)<[^>]*>`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	lineSpace     = regexp.MustCompile(`[ \t\r\x{00a0}]+`)
)

// StripHTML reduces a chapter document to plain text. Block-level tags
// become paragraph breaks; runs of blank lines collapse to one.
func StripHTML(doc string) string {
	doc = dropBlocks.ReplaceAllString(doc, "")
	doc = blockBoundary.ReplaceAllString(doc, "\n\n")
	doc = anyTag.ReplaceAllString(doc, "")
	doc = html.UnescapeString(doc)

	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(lineSpace.ReplaceAllString(line, " "))
	}
	doc = strings.Join(lines, "\n")
	doc = manyNewlines.ReplaceAllString(doc, "\n\n")
	return strings.TrimSpace(doc)
}
