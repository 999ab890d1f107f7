package main

import (
	"context"
	"strings"
	"testing"

	"weft/internal/library"
	"weft/internal/pipeline"
	"weft/internal/providers"
)

type stubAdviser struct {
	advice  *providers.Advice
	queries []*pipeline.AdviceQuery
}

func (s *stubAdviser) Advise(_ context.Context, query *pipeline.AdviceQuery) (*providers.Advice, error) {
	s.queries = append(s.queries, query)
	return s.advice, nil
}

func reviewWithNewEntity() *pipeline.Review {
	return &pipeline.Review{
		BookID:        1,
		BookTitle:     "Ascension",
		ChapterNumber: 3,
		SourceText:    "马泰尔登上山门。",
		NewEntities: []pipeline.NewEntity{{
			Category:    library.CategoryCharacters,
			Key:         "马泰尔",
			Translation: "Martel",
			Gender:      "male",
			Occurrences: 1,
		}},
	}
}

func TestPromptResolverPicksAdviceOptionByNumber(t *testing.T) {
	adviser := &stubAdviser{advice: &providers.Advice{
		Message: "马 is horse, 泰 is peace, 尔 is you.",
		Options: []string{"Mathel", "Martell", "Ma Tai-er"},
	}}
	var out strings.Builder
	resolver := newPromptResolver(strings.NewReader("r\n?\n2\n"), &out, adviser)

	resolution, err := resolver.Resolve(context.Background(), reviewWithNewEntity())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	ref := pipeline.EntityRef{Category: library.CategoryCharacters, Key: "马泰尔"}
	decision, ok := resolution.NewEntities[ref]
	if !ok || decision.Translation != "Martell" {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	if len(adviser.queries) != 1 {
		t.Fatalf("expected one advice call, got %d", len(adviser.queries))
	}
	query := adviser.queries[0]
	if query.Key != "马泰尔" || query.Translation != "Martel" || query.SourceText == "" {
		t.Fatalf("unexpected advice query: %+v", query)
	}

	printed := out.String()
	if !strings.Contains(printed, "horse") || !strings.Contains(printed, "[2] Martell") {
		t.Fatalf("advice not surfaced:\n%s", printed)
	}
}

func TestPromptResolverTypedTranslationWinsOverAdvice(t *testing.T) {
	adviser := &stubAdviser{advice: &providers.Advice{Options: []string{"Mathel"}}}
	review := &pipeline.Review{
		BookID:    1,
		BookTitle: "Ascension",
		Conflicts: []pipeline.Conflict{{
			Category: library.CategoryCharacters,
			Key:      "克莱恩",
			Stored:   library.Entity{Translation: "Klein", LastChapter: 2},
			Proposed: "Clain",
		}},
	}
	var out strings.Builder
	resolver := newPromptResolver(strings.NewReader("c\n?\nKlein Moretti\n"), &out, adviser)

	resolution, err := resolver.Resolve(context.Background(), review)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	ref := pipeline.EntityRef{Category: library.CategoryCharacters, Key: "克莱恩"}
	if decision := resolution.Conflicts[ref]; decision.Translation != "Klein Moretti" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestPromptResolverDefaultsAcceptWithoutAdviser(t *testing.T) {
	var out strings.Builder
	resolver := newPromptResolver(strings.NewReader("\n"), &out, nil)

	resolution, err := resolver.Resolve(context.Background(), reviewWithNewEntity())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	ref := pipeline.EntityRef{Category: library.CategoryCharacters, Key: "马泰尔"}
	decision, ok := resolution.NewEntities[ref]
	if !ok || decision.Skip || decision.Translation != "" {
		t.Fatalf("expected accept default, got %+v", decision)
	}
	if strings.Contains(out.String(), "[?]advice") {
		t.Fatalf("advice hint shown without an adviser:\n%s", out.String())
	}
}
