package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"weft/internal/library"
	"weft/internal/providers"
)

//go:embed prompt.txt
var defaultPromptTemplate string

// languageNames covers the codes the configuration validates; anything else
// passes through verbatim.
var languageNames = map[string]string{
	"zh": "Chinese",
	"en": "English",
	"ja": "Japanese",
	"ko": "Korean",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	if code == "" {
		return "the source language"
	}
	return code
}

// promptContext carries what the system prompt is built from. The entity set
// injected into the prompt is limited to entities that actually occur in the
// chapter text, with the last_chapter sentinel applied.
type promptContext struct {
	Template       string
	SourceLanguage string
	TargetLanguage string
}

// buildSystemPrompt renders the system prompt for one chunk call. known is the
// store's entity set merged with entities discovered earlier in this chapter;
// only entities present in text are injected, keeping the prompt bounded.
func buildSystemPrompt(pctx promptContext, known library.EntitySet, text string) (string, error) {
	template := pctx.Template
	if strings.TrimSpace(template) == "" {
		template = defaultPromptTemplate
	}

	inText := entitiesInsideText(known, text)
	encoded, err := json.MarshalIndent(inText, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode prompt entities: %w", err)
	}

	replacer := strings.NewReplacer(
		"{{ENTITIES}}", string(encoded),
		"{{SOURCE_LANGUAGE}}", languageName(pctx.SourceLanguage),
		"{{TARGET_LANGUAGE}}", languageName(pctx.TargetLanguage),
	)
	return replacer.Replace(template), nil
}

// entitiesInsideText filters the known set to entities whose key occurs in
// the chapter text and rewrites last_chapter to the wire sentinel.
func entitiesInsideText(known library.EntitySet, text string) map[string]map[string]providers.EntityFields {
	normalized := normalizeText(text)
	out := make(map[string]map[string]providers.EntityFields, len(providers.Categories))
	for _, category := range providers.Categories {
		out[category] = make(map[string]providers.EntityFields)
		for key, fields := range known[library.Category(category)] {
			if countOccurrences(normalized, key) == 0 {
				continue
			}
			out[category][key] = providers.EntityFields{
				Translation:          fields.Translation,
				Gender:               fields.Gender,
				LastChapter:          providers.ChapterTag(providers.LastChapterSentinel),
				IncorrectTranslation: fields.IncorrectTranslation,
			}
		}
	}
	return out
}
