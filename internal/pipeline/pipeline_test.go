package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/providers"
	"weft/internal/services"
)

type fakeTranslator struct {
	results []*providers.Result
	calls   int
	prompts []string
	texts   []string
}

func (f *fakeTranslator) Translate(_ context.Context, req *providers.Request) (*providers.Result, error) {
	f.prompts = append(f.prompts, req.SystemPrompt)
	f.texts = append(f.texts, req.Text)
	if f.calls >= len(f.results) {
		return nil, errors.New("unexpected translator call")
	}
	result := f.results[f.calls]
	f.calls++
	return result, nil
}

func (f *fakeTranslator) Name() string { return "fake" }

func emptyEntities() map[string]map[string]providers.EntityFields {
	entities := make(map[string]map[string]providers.EntityFields, len(providers.Categories))
	for _, category := range providers.Categories {
		entities[category] = make(map[string]providers.EntityFields)
	}
	return entities
}

func mkResult(title string, content []string) *providers.Result {
	return &providers.Result{
		Title:    title,
		Summary:  "A summary.",
		Content:  content,
		Entities: emptyEntities(),
	}
}

type fixture struct {
	pipeline *Pipeline
	store    *library.Store
	book     *library.Book
	fake     *fakeTranslator
}

func newFixture(t *testing.T, resolver Resolver, maxChars int, results ...*providers.Result) *fixture {
	t.Helper()
	store, err := library.OpenPath(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	book, err := store.CreateBook(context.Background(), library.Book{Title: "Ascension"})
	if err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}

	cfg := config.Default()
	fake := &fakeTranslator{results: results}
	p := New(&cfg, store, resolver, nil)
	p.translator = func(*config.Config, string, *slog.Logger) (providers.Translator, string, int, error) {
		return fake, "test-model", maxChars, nil
	}
	return &fixture{pipeline: p, store: store, book: book, fake: fake}
}

func TestRunCommitsChapterAndNewEntities(t *testing.T) {
	result := mkResult("Chapter 1 - The Gate", []string{"Martel climbed the gate.", "", "Martel smiled."})
	result.Chapter = 1
	result.Entities["characters"]["马泰尔"] = providers.EntityFields{
		Translation: "Martel",
		Gender:      "male",
		LastChapter: providers.ChapterTag(providers.LastChapterSentinel),
	}
	fx := newFixture(t, AcceptAll{}, 5000, result)

	outcome, err := fx.pipeline.Run(context.Background(), &Job{
		BookID: fx.book.ID,
		Source: "马泰尔登上山门。马泰尔笑了。",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Chapter == nil || outcome.Chapter.Number != 1 {
		t.Fatalf("unexpected chapter: %+v", outcome.Chapter)
	}
	if outcome.Chapter.Model != "test-model" {
		t.Fatalf("unexpected model %q", outcome.Chapter.Model)
	}

	entity, err := fx.store.LookupEntity(context.Background(), fx.book.ID, library.CategoryCharacters, "马泰尔")
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if entity.Translation != "Martel" || entity.Gender != "male" {
		t.Fatalf("unexpected entity: %+v", entity)
	}
	if entity.Count != 2 {
		t.Fatalf("expected count from source occurrences, got %d", entity.Count)
	}
	if entity.LastChapter != 1 {
		t.Fatalf("sentinel not resolved to chapter number: %d", entity.LastChapter)
	}
}

func TestRunMultiChunkFeedsEntitiesForward(t *testing.T) {
	first := mkResult("Chapter 1", []string{"First part."})
	first.Entities["characters"]["马泰尔"] = providers.EntityFields{Translation: "Martel"}
	second := mkResult("", []string{"Second part."})

	source := strings.Repeat("甲", 30) + "\n\n" + strings.Repeat("乙", 30) + "马泰尔"
	fx := newFixture(t, AcceptAll{}, 40, first, second)

	outcome, err := fx.pipeline.Run(context.Background(), &Job{
		BookID:        fx.book.ID,
		ChapterNumber: 1,
		Source:        source,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if fx.fake.calls != 2 {
		t.Fatalf("expected 2 translator calls, got %d", fx.fake.calls)
	}
	if outcome.Chunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", outcome.Chunks)
	}
	if got := outcome.Chapter.Content; len(got) != 2 || got[0] != "First part." || got[1] != "Second part." {
		t.Fatalf("content not aggregated in order: %q", got)
	}
	if strings.Contains(fx.fake.prompts[0], "Martel") {
		t.Fatal("first prompt should not know the entity yet")
	}
	if !strings.Contains(fx.fake.prompts[1], "Martel") {
		t.Fatal("second prompt should carry the entity discovered in chunk one")
	}
	if !strings.HasPrefix(fx.fake.texts[0], "Translate the following into English:") {
		t.Fatalf("unexpected user text prefix: %q", fx.fake.texts[0])
	}
}

func TestRunNewEntityParksWithoutResolver(t *testing.T) {
	result := mkResult("Chapter 1", []string{"Mateer arrived."})
	result.Entities["characters"]["马泰尔"] = providers.EntityFields{Translation: "Mateer"}
	fx := newFixture(t, nil, 5000, result)

	outcome, err := fx.pipeline.Run(context.Background(), &Job{
		BookID:        fx.book.ID,
		ChapterNumber: 1,
		Source:        "马泰尔到了。",
	})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if outcome == nil || outcome.Result == nil {
		t.Fatal("parked outcome must carry the aggregated result for later resume")
	}
	if len(outcome.Review.NewEntities) != 1 || outcome.Review.NewEntities[0].Key != "马泰尔" {
		t.Fatalf("unexpected review: %+v", outcome.Review)
	}

	// Nothing committed: no chapter, and the unseen key never reached the store.
	if _, err := fx.store.GetChapter(context.Background(), fx.book.ID, 1); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("chapter must not be committed, got %v", err)
	}
	if _, err := fx.store.LookupEntity(context.Background(), fx.book.ID, library.CategoryCharacters, "马泰尔"); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("entity must not be committed, got %v", err)
	}
}

func TestRunConflictParksWithoutResolver(t *testing.T) {
	seedConflict := func(t *testing.T, fx *fixture) {
		chapter := &library.Chapter{BookID: fx.book.ID, Number: 1, Title: "Chapter 1", Content: []string{"x"}}
		err := fx.store.CommitChapter(context.Background(), chapter, []library.EntityDelta{
			{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Mateer", Occurrences: 1},
		})
		if err != nil {
			t.Fatalf("seed commit failed: %v", err)
		}
	}

	result := mkResult("Chapter 5", []string{"Martel rode out."})
	result.Entities["characters"]["马泰尔"] = providers.EntityFields{Translation: "Martel"}
	fx := newFixture(t, nil, 5000, result)
	seedConflict(t, fx)

	outcome, err := fx.pipeline.Run(context.Background(), &Job{
		BookID:        fx.book.ID,
		ChapterNumber: 5,
		Source:        "马泰尔骑马出城。",
	})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if outcome == nil || outcome.Result == nil {
		t.Fatal("parked outcome must carry the aggregated result for later resume")
	}
	if len(outcome.Review.Conflicts) != 1 {
		t.Fatalf("unexpected conflicts: %+v", outcome.Review.Conflicts)
	}

	// Nothing committed: chapter 5 absent, entity untouched.
	if _, err := fx.store.GetChapter(context.Background(), fx.book.ID, 5); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("chapter must not be committed, got %v", err)
	}
	entity, err := fx.store.LookupEntity(context.Background(), fx.book.ID, library.CategoryCharacters, "马泰尔")
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if entity.Translation != "Mateer" || entity.Count != 1 {
		t.Fatalf("store changed by parked job: %+v", entity)
	}
}

func TestRunConflictAcceptedRecordsOverrideAndRewrites(t *testing.T) {
	result := mkResult("Chapter 5", []string{"Martel rode out.", "", "MATEER smiled at the crowd.", "", "mateer left."})
	result.Entities["characters"]["马泰尔"] = providers.EntityFields{Translation: "Martel"}
	fx := newFixture(t, AcceptAll{}, 5000, result)

	chapter := &library.Chapter{BookID: fx.book.ID, Number: 1, Title: "Chapter 1", Content: []string{"x"}}
	err := fx.store.CommitChapter(context.Background(), chapter, []library.EntityDelta{
		{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Mateer", Occurrences: 1},
	})
	if err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}

	outcome, err := fx.pipeline.Run(context.Background(), &Job{
		BookID:        fx.book.ID,
		ChapterNumber: 5,
		Source:        "马泰尔骑马出城。",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entity, err := fx.store.LookupEntity(context.Background(), fx.book.ID, library.CategoryCharacters, "马泰尔")
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if entity.Translation != "Martel" || entity.IncorrectTranslation != "Mateer" {
		t.Fatalf("override not recorded: %+v", entity)
	}
	if entity.Count != 2 || entity.LastChapter != 5 {
		t.Fatalf("unexpected counters: %+v", entity)
	}

	content := outcome.Chapter.Content
	if content[2] != "MARTEL smiled at the crowd." {
		t.Fatalf("upper-case occurrence not rewritten: %q", content[2])
	}
	if content[4] != "martel left." {
		t.Fatalf("lower-case occurrence not rewritten: %q", content[4])
	}
	if content[0] != "Martel rode out." {
		t.Fatalf("existing occurrence altered: %q", content[0])
	}
}

func TestResumeCompletesFromStashedResult(t *testing.T) {
	fx := newFixture(t, AcceptAll{}, 5000)

	result := mkResult("Chapter 2", []string{"The journey continues."})
	result.Entities["places"]["青云山"] = providers.EntityFields{Translation: "Azure Cloud Mountain"}
	stashed, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}

	outcome, err := fx.pipeline.Resume(context.Background(), &Job{
		BookID:        fx.book.ID,
		ChapterNumber: 2,
		Source:        "青云山之旅。",
	}, stashed)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if fx.fake.calls != 0 {
		t.Fatalf("resume must not call the provider, got %d calls", fx.fake.calls)
	}
	if outcome.Chapter == nil || outcome.Chapter.Number != 2 {
		t.Fatalf("unexpected chapter: %+v", outcome.Chapter)
	}
	if _, err := fx.store.LookupEntity(context.Background(), fx.book.ID, library.CategoryPlaces, "青云山"); err != nil {
		t.Fatalf("entity not committed on resume: %v", err)
	}
}

func TestRunEmptySourceIsValidationError(t *testing.T) {
	fx := newFixture(t, nil, 5000)
	_, err := fx.pipeline.Run(context.Background(), &Job{BookID: fx.book.ID, Source: "   "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAggregateDropsCrossCategoryAndTranslationDuplicates(t *testing.T) {
	first := mkResult("Chapter 1", []string{"a"})
	first.Entities["characters"]["青云"] = providers.EntityFields{Translation: "Azure Cloud"}

	second := mkResult("", []string{"b"})
	second.Entities["places"]["青云"] = providers.EntityFields{Translation: "Azure Cloud Peak"}
	second.Entities["places"]["别峰"] = providers.EntityFields{Translation: "Azure Cloud"}
	second.Entities["places"]["黑风镇"] = providers.EntityFields{Translation: "Black Wind Town"}

	var agg aggregate
	agg.add(first)
	agg.add(second)

	if _, ok := agg.result.Entities["places"]["青云"]; ok {
		t.Fatal("cross-category duplicate key should be dropped")
	}
	if _, ok := agg.result.Entities["places"]["别峰"]; ok {
		t.Fatal("duplicate translation should be dropped")
	}
	if _, ok := agg.result.Entities["places"]["黑风镇"]; !ok {
		t.Fatal("clean entity should survive")
	}
	if len(agg.warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %q", agg.warnings)
	}
}

func TestRewriteTranslationPreservesCasePattern(t *testing.T) {
	lines := []string{"MATEER attacked.", "Mateer smiled.", "mateer left.", "Nothing here."}
	got := rewriteTranslation(lines, "Mateer", "Martel")
	want := []string{"MARTEL attacked.", "Martel smiled.", "martel left.", "Nothing here."}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestCountOccurrencesNormalizesUnicode(t *testing.T) {
	// é as a single code point vs e plus combining acute.
	composed := "Café near the other Café."
	decomposed := "Café"
	if got := countOccurrences(normalizeText(composed), decomposed); got != 2 {
		t.Fatalf("expected 2 occurrences across normalization forms, got %d", got)
	}
}

func TestBuildSystemPromptInjectsOnlyEntitiesInText(t *testing.T) {
	known := library.NewEntitySet()
	known[library.CategoryCharacters]["马泰尔"] = library.EntityFields{Translation: "Martel"}
	known[library.CategoryPlaces]["黑风镇"] = library.EntityFields{Translation: "Black Wind Town"}

	prompt, err := buildSystemPrompt(promptContext{SourceLanguage: "zh", TargetLanguage: "en"}, known, "马泰尔离开了。")
	if err != nil {
		t.Fatalf("buildSystemPrompt failed: %v", err)
	}
	if !strings.Contains(prompt, "Martel") {
		t.Fatal("entity present in text missing from prompt")
	}
	if strings.Contains(prompt, "Black Wind Town") {
		t.Fatal("entity absent from text leaked into prompt")
	}
	if !strings.Contains(prompt, "Chinese") || !strings.Contains(prompt, "English") {
		t.Fatal("language names not substituted")
	}
}
