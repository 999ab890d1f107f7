package pipeline

import (
	"context"
	"sort"
	"strings"

	"weft/internal/library"
	"weft/internal/providers"
)

// EntityRef addresses one entity inside a review.
type EntityRef struct {
	Category library.Category
	Key      string
}

// NewEntity is an entity the model introduced that the store has never seen.
type NewEntity struct {
	Category    library.Category
	Key         string
	Translation string
	Gender      string
	// Occurrences in the chapter's source text.
	Occurrences int
}

// Conflict is an existing entity whose proposed translation differs from the
// stored canonical one.
type Conflict struct {
	Category library.Category
	Key      string
	Stored   library.Entity
	Proposed string
}

// Review is the reconciliation outcome handed to a Resolver before anything
// is committed.
type Review struct {
	BookID        int64
	BookTitle     string
	ChapterNumber int
	NewEntities   []NewEntity
	Conflicts     []Conflict
	Warnings      []string
	// SourceText is the chapter's untranslated text, kept so interactive
	// resolvers can show or request context for an entity.
	SourceText string
}

// NewEntityDecision answers one NewEntity. The zero value accepts the model's
// proposal unchanged.
type NewEntityDecision struct {
	Skip bool
	// Translation overrides the proposed translation when set.
	Translation string
}

// ConflictDecision answers one Conflict. Exactly one of KeepStored or a
// translation choice applies: an empty Translation with KeepStored false
// accepts the model's proposal.
type ConflictDecision struct {
	KeepStored  bool
	Translation string
}

// Resolution carries the resolver's decisions. Missing entries fall back to
// the zero-value decision for new entities; a conflict without an entry is
// unresolved and parks the job.
type Resolution struct {
	NewEntities map[EntityRef]NewEntityDecision
	Conflicts   map[EntityRef]ConflictDecision
}

// Resolver decides a Review. Implementations may be interactive. A pipeline
// without a resolver parks any non-empty review instead of committing.
type Resolver interface {
	Resolve(ctx context.Context, review *Review) (*Resolution, error)
}

// AcceptAll resolves every review by accepting the model's proposals,
// including conflicting translations.
type AcceptAll struct{}

func (AcceptAll) Resolve(_ context.Context, review *Review) (*Resolution, error) {
	resolution := &Resolution{
		NewEntities: make(map[EntityRef]NewEntityDecision),
		Conflicts:   make(map[EntityRef]ConflictDecision),
	}
	for _, conflict := range review.Conflicts {
		resolution.Conflicts[EntityRef{Category: conflict.Category, Key: conflict.Key}] = ConflictDecision{}
	}
	return resolution, nil
}

// buildReview diffs the aggregated chapter entities against the stored set.
// Keys the store holds in a different category are dropped with a warning;
// the store's cross-category uniqueness wins over a model's reshuffling.
func buildReview(book *library.Book, chapterNumber int, stored library.EntitySet, agg *aggregate, sourceText string) *Review {
	review := &Review{
		BookID:        book.ID,
		BookTitle:     book.Title,
		ChapterNumber: chapterNumber,
		Warnings:      agg.warnings,
		SourceText:    sourceText,
	}
	normalized := normalizeText(sourceText)

	for _, categoryName := range providers.Categories {
		category := library.Category(categoryName)
		keys := sortedKeys(agg.result.Entities[categoryName])
		for _, key := range keys {
			fields := agg.result.Entities[categoryName][key]
			if strings.TrimSpace(fields.Translation) == "" {
				review.Warnings = append(review.Warnings, "entity "+key+" has an empty translation, dropped")
				continue
			}

			existing, existingCategory := lookupAnyCategory(stored, key)
			switch {
			case existing == nil:
				review.NewEntities = append(review.NewEntities, NewEntity{
					Category:    category,
					Key:         key,
					Translation: fields.Translation,
					Gender:      fields.Gender,
					Occurrences: countOccurrences(normalized, key),
				})
			case existingCategory != category:
				review.Warnings = append(review.Warnings,
					"entity "+key+" already stored under "+string(existingCategory)+", ignoring "+categoryName+" placement")
			case existing.Translation != fields.Translation:
				review.Conflicts = append(review.Conflicts, Conflict{
					Category: category,
					Key:      key,
					Stored:   *existing,
					Proposed: fields.Translation,
				})
			}
		}
	}
	return review
}

// applyResolution turns review decisions into entity deltas and rewrites the
// translated content where an accepted decision changed a translation.
func applyResolution(review *Review, resolution *Resolution, stored library.EntitySet, content []string, sourceText string) ([]library.EntityDelta, []string, error) {
	if resolution == nil {
		resolution = &Resolution{}
	}
	normalized := normalizeText(sourceText)
	deltas := make([]library.EntityDelta, 0, len(review.NewEntities)+len(review.Conflicts))

	for _, entity := range review.NewEntities {
		decision := resolution.NewEntities[EntityRef{Category: entity.Category, Key: entity.Key}]
		if decision.Skip {
			continue
		}
		delta := library.EntityDelta{
			Category:    entity.Category,
			Key:         entity.Key,
			Translation: entity.Translation,
			Gender:      entity.Gender,
			Occurrences: entity.Occurrences,
		}
		if override := strings.TrimSpace(decision.Translation); override != "" && override != entity.Translation {
			content = rewriteTranslation(content, entity.Translation, override)
			delta.IncorrectTranslation = entity.Translation
			delta.Translation = override
		}
		deltas = append(deltas, delta)
	}

	for _, conflict := range review.Conflicts {
		ref := EntityRef{Category: conflict.Category, Key: conflict.Key}
		decision, decided := resolution.Conflicts[ref]
		if !decided {
			return nil, nil, errUnresolvedConflict(conflict)
		}
		delta := library.EntityDelta{
			Category:    conflict.Category,
			Key:         conflict.Key,
			Translation: conflict.Stored.Translation,
			Occurrences: countOccurrences(normalized, conflict.Key),
		}
		switch {
		case decision.KeepStored:
			// The model may have used its own wording in the text.
			content = rewriteTranslation(content, conflict.Proposed, conflict.Stored.Translation)
		case strings.TrimSpace(decision.Translation) != "":
			chosen := strings.TrimSpace(decision.Translation)
			content = rewriteTranslation(content, conflict.Proposed, chosen)
			content = rewriteTranslation(content, conflict.Stored.Translation, chosen)
			delta.Translation = chosen
			delta.IncorrectTranslation = conflict.Stored.Translation
		default:
			content = rewriteTranslation(content, conflict.Stored.Translation, conflict.Proposed)
			delta.Translation = conflict.Proposed
			delta.IncorrectTranslation = conflict.Stored.Translation
		}
		deltas = append(deltas, delta)
	}

	// Preserve occurrence counts for stored entities the model reused silently.
	seen := make(map[EntityRef]struct{}, len(deltas))
	for _, delta := range deltas {
		seen[EntityRef{Category: delta.Category, Key: delta.Key}] = struct{}{}
	}
	for _, categoryName := range providers.Categories {
		category := library.Category(categoryName)
		for key, fields := range stored[category] {
			ref := EntityRef{Category: category, Key: key}
			if _, ok := seen[ref]; ok {
				continue
			}
			occurrences := countOccurrences(normalized, key)
			if occurrences == 0 {
				continue
			}
			deltas = append(deltas, library.EntityDelta{
				Category:    category,
				Key:         key,
				Translation: fields.Translation,
				Occurrences: occurrences,
			})
		}
	}

	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Category != deltas[j].Category {
			return deltas[i].Category < deltas[j].Category
		}
		return deltas[i].Key < deltas[j].Key
	})
	return deltas, content, nil
}

func lookupAnyCategory(stored library.EntitySet, key string) (*library.Entity, library.Category) {
	for _, categoryName := range providers.Categories {
		category := library.Category(categoryName)
		if fields, ok := stored[category][key]; ok {
			return &library.Entity{
				Category:             category,
				Key:                  key,
				Translation:          fields.Translation,
				Gender:               fields.Gender,
				Count:                fields.Count,
				LastChapter:          fields.LastChapter,
				IncorrectTranslation: fields.IncorrectTranslation,
			}, category
		}
	}
	return nil, ""
}

func sortedKeys(m map[string]providers.EntityFields) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
