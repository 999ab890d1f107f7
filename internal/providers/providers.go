// Package providers contains the model backend adapters used for chapter
// translation. Every backend implements Translator: one call translates one
// chunk of source text into a structured chapter fragment.
package providers

import (
	"context"
	"encoding/json"
	"strings"
)

// LastChapterSentinel is the value models report in an entity's last_chapter
// field. It is resolved to a concrete chapter number before anything is
// persisted; it never appears in the library database.
const LastChapterSentinel = "THIS CHAPTER"

// Categories is the fixed entity category list in wire order.
var Categories = []string{"characters", "places", "organizations", "abilities", "titles", "equipment"}

// Progress reports incremental output during a streaming call.
type Progress struct {
	// Delta is the text fragment just received.
	Delta string
	// Received is the total number of bytes of content received so far.
	Received int
}

// Request is one translation call for a single chunk of source text.
type Request struct {
	// Model to use, in the backend's native naming.
	Model string
	// SystemPrompt carries the instructions and entity context.
	SystemPrompt string
	// Text is the source chunk to translate.
	Text string
	// RequestID correlates log lines and retries for this call.
	RequestID string
	// OnProgress, when set, receives incremental output. Backends without
	// streaming support invoke it once with the full content.
	OnProgress func(Progress)
}

// ChapterTag is an entity's last_chapter wire value. Models are instructed to
// send the sentinel but some echo the integer from the prompt's example, so
// both decode.
type ChapterTag string

func (t *ChapterTag) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = ChapterTag(s)
		return nil
	}
	*t = ChapterTag(trimmed)
	return nil
}

// EntityFields is the wire shape of one entity in a model response.
type EntityFields struct {
	Translation          string     `json:"translation"`
	Gender               string     `json:"gender,omitempty"`
	LastChapter          ChapterTag `json:"last_chapter,omitempty"`
	IncorrectTranslation string     `json:"incorrect_translation,omitempty"`
}

// Result is the structured chapter fragment a model returns for one chunk.
type Result struct {
	Title   string   `json:"title"`
	Chapter int      `json:"chapter,omitempty"`
	Summary string   `json:"summary"`
	Content []string `json:"content"`
	// Entities maps category name to key to fields. All six categories are
	// present after parsing, empty maps included.
	Entities map[string]map[string]EntityFields `json:"entities"`
	// Raw is the content string the result was parsed from.
	Raw string `json:"-"`
}

// Translator is a model backend capable of structured chapter translation.
type Translator interface {
	// Translate performs one call. A nil error means Result passed schema
	// validation. Interrupted streams are full-call failures.
	Translate(ctx context.Context, req *Request) (*Result, error)
	// Name identifies the backend for logs.
	Name() string
}

// Advice is a model's alternative translations for one entity: a short note
// about the source characters and why the original rendering was chosen,
// plus replacement options ordered by the model's preference.
type Advice struct {
	Message string   `json:"message"`
	Options []string `json:"options"`
	// Raw is the content string the advice was parsed from.
	Raw string `json:"-"`
}

// Adviser is the advice-call capability. All bundled backends implement it;
// advice requests reuse Request with the entity query in Text.
type Adviser interface {
	Advise(ctx context.Context, req *Request) (*Advice, error)
}

func normalizeResult(result *Result, raw string) *Result {
	if result.Entities == nil {
		result.Entities = make(map[string]map[string]EntityFields, len(Categories))
	}
	for _, category := range Categories {
		if result.Entities[category] == nil {
			result.Entities[category] = make(map[string]EntityFields)
		}
	}
	result.Title = strings.TrimSpace(result.Title)
	result.Summary = strings.TrimSpace(result.Summary)
	result.Raw = raw
	return result
}
