package textchunk_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"weft/internal/services"
	"weft/internal/textchunk"
)

func mustSplit(t *testing.T, text string, maxChars int) []string {
	t.Helper()
	chunks, err := textchunk.Split(text, maxChars)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	return chunks
}

func assertLossless(t *testing.T, text string, chunks []string) {
	t.Helper()
	if got := strings.Join(chunks, ""); got != text {
		t.Fatalf("concatenated chunks differ from input:\n got %q\nwant %q", got, text)
	}
}

func assertBudget(t *testing.T, chunks []string, maxChars int) {
	t.Helper()
	for i, chunk := range chunks {
		if size := utf8.RuneCountInString(chunk); size > maxChars {
			t.Fatalf("chunk %d has %d runes, budget %d", i, size, maxChars)
		}
	}
}

func TestSplitShortText(t *testing.T) {
	text := "Hello, world!"
	chunks := mustSplit(t, text, 100)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if chunks := mustSplit(t, "", 100); chunks != nil {
		t.Fatalf("expected nil for empty input, got %q", chunks)
	}
}

func TestSplitRejectsNonPositiveBudget(t *testing.T) {
	text := strings.Repeat("word ", 500)
	for _, budget := range []int{0, -5} {
		if _, err := textchunk.Split(text, budget); !errors.Is(err, services.ErrChunkOverflow) {
			t.Fatalf("budget %d: expected ErrChunkOverflow, got %v", budget, err)
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para1 := "First paragraph text here."
	para2 := "Second paragraph text here."
	text := para1 + "\n\n" + para2

	chunks := mustSplit(t, text, 30)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "First") {
		t.Fatalf("first chunk should start the first paragraph: %q", chunks[0])
	}
	if !strings.HasSuffix(chunks[0], "\n\n") {
		t.Fatalf("paragraph separator should stay with the first chunk: %q", chunks[0])
	}
	assertLossless(t, text, chunks)
	assertBudget(t, chunks, 30)
}

func TestSplitFallsBackToSentences(t *testing.T) {
	text := "First sentence ends here. Second sentence follows. Third sentence."
	chunks := mustSplit(t, text, 30)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %q", chunks)
	}
	assertLossless(t, text, chunks)
	assertBudget(t, chunks, 30)
}

func TestSplitCJKSentences(t *testing.T) {
	text := "他走进大厅。所有人都安静了下来。“你来了？”长老问道。"
	chunks := mustSplit(t, text, 12)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %q", chunks)
	}
	assertLossless(t, text, chunks)
	assertBudget(t, chunks, 12)
}

func TestSplitHardCutsOversizeSentence(t *testing.T) {
	text := strings.Repeat("字", 25)
	chunks := mustSplit(t, text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	assertLossless(t, text, chunks)
	assertBudget(t, chunks, 10)
	for _, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Fatalf("hard cut split a multi-byte character: %q", chunk)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("A paragraph of narrative prose. ", 40) + "\n\n" + strings.Repeat("More prose follows here. ", 40)
	first := mustSplit(t, text, 200)
	second := mustSplit(t, text, 200)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitLongChapterBudget(t *testing.T) {
	var sb strings.Builder
	sentence := "The caravan pressed on through the mountain pass as night fell over the ridge. "
	for sb.Len() < 12000 {
		sb.WriteString(sentence)
		if sb.Len()%960 < len(sentence) {
			sb.WriteString("\n\n")
		}
	}
	text := sb.String()[:12000]

	chunks := mustSplit(t, text, 5000)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks for 12000 chars at 5000 budget, got %d", len(chunks))
	}
	assertLossless(t, text, chunks)
	assertBudget(t, chunks, 5000)
}
