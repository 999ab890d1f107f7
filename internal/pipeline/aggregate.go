package pipeline

import (
	"fmt"
	"strings"

	"weft/internal/providers"
)

// aggregate merges per-chunk results into a single chapter result. Content is
// concatenated in chunk order and summaries join with a space. Entities union
// per category; within a chapter the later chunk wins for the same key. An
// entity whose key already sits in another category, or whose translation is
// already used by a different key, is dropped and reported as a warning so it
// never enters reconciliation.
type aggregate struct {
	result   *providers.Result
	warnings []string
}

func (a *aggregate) add(chunk *providers.Result) {
	if chunk == nil {
		return
	}
	if a.result == nil {
		copied := *chunk
		a.result = &copied
		a.ensureCategories()
		return
	}

	a.result.Content = append(a.result.Content, chunk.Content...)
	a.result.Summary = strings.TrimSpace(a.result.Summary + " " + chunk.Summary)
	if a.result.Title == "" {
		a.result.Title = chunk.Title
	}
	if chunk.Chapter != 0 {
		a.result.Chapter = chunk.Chapter
	}

	for _, category := range providers.Categories {
		for key, fields := range chunk.Entities[category] {
			if other := a.keyInOtherCategory(category, key); other != "" {
				a.warnf("entity %q reported in both %s and %s, keeping %s", key, category, other, other)
				continue
			}
			if _, exists := a.result.Entities[category][key]; exists {
				a.result.Entities[category][key] = fields
				continue
			}
			if holder, holderCategory := a.translationHolder(fields.Translation, key); holder != "" {
				a.warnf("translation %q already used by %q in %s, dropping %q", fields.Translation, holder, holderCategory, key)
				continue
			}
			a.result.Entities[category][key] = fields
		}
	}
}

func (a *aggregate) keyInOtherCategory(category, key string) string {
	for _, other := range providers.Categories {
		if other == category {
			continue
		}
		if _, ok := a.result.Entities[other][key]; ok {
			return other
		}
	}
	return ""
}

func (a *aggregate) translationHolder(translation, key string) (string, string) {
	if strings.TrimSpace(translation) == "" {
		return "", ""
	}
	for _, category := range providers.Categories {
		for otherKey, fields := range a.result.Entities[category] {
			if otherKey != key && fields.Translation == translation {
				return otherKey, category
			}
		}
	}
	return "", ""
}

func (a *aggregate) ensureCategories() {
	if a.result.Entities == nil {
		a.result.Entities = make(map[string]map[string]providers.EntityFields, len(providers.Categories))
	}
	for _, category := range providers.Categories {
		if a.result.Entities[category] == nil {
			a.result.Entities[category] = make(map[string]providers.EntityFields)
		}
	}
}

func (a *aggregate) warnf(format string, args ...any) {
	a.warnings = append(a.warnings, fmt.Sprintf(format, args...))
}
