package library_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"weft/internal/library"
)

func openStore(t *testing.T) *library.Store {
	t.Helper()
	store, err := library.OpenPath(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustBook(t *testing.T, store *library.Store, title string) *library.Book {
	t.Helper()
	book, err := store.CreateBook(context.Background(), library.Book{Title: title})
	if err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	return book
}

func TestCreateBookIsIdempotentByTitle(t *testing.T) {
	store := openStore(t)
	first := mustBook(t, store, "Ascension")
	second := mustBook(t, store, "Ascension")
	if first.ID != second.ID {
		t.Fatalf("expected same book, got IDs %d and %d", first.ID, second.ID)
	}
	if first.SourceLanguage != "zh" || first.TargetLanguage != "en" {
		t.Fatalf("unexpected language defaults: %+v", first)
	}
}

func TestSaveAndGetChapterRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	chapter := &library.Chapter{
		BookID:        book.ID,
		Number:        1,
		Title:         "The Mountain Gate",
		SourceContent: []string{"第一段", "", "第二段"},
		Content:       []string{"First paragraph.", "", "Second paragraph."},
		Summary:       "The hero arrives.",
		Model:         "gpt-4o",
	}
	if _, err := store.SaveChapter(ctx, chapter); err != nil {
		t.Fatalf("SaveChapter failed: %v", err)
	}

	loaded, err := store.GetChapter(ctx, book.ID, 1)
	if err != nil {
		t.Fatalf("GetChapter failed: %v", err)
	}
	if loaded.Title != chapter.Title || loaded.Summary != chapter.Summary {
		t.Fatalf("unexpected chapter: %+v", loaded)
	}
	if len(loaded.Content) != 3 || loaded.Content[1] != "" {
		t.Fatalf("paragraph breaks not preserved: %q", loaded.Content)
	}

	next, err := store.NextChapterNumber(ctx, book.ID)
	if err != nil {
		t.Fatalf("NextChapterNumber failed: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected next chapter 2, got %d", next)
	}
}

func TestCommitChapterAppliesDeltasAtomically(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	chapter := &library.Chapter{
		BookID:  book.ID,
		Number:  1,
		Title:   "Chapter 1",
		Content: []string{"Mateer climbed the gate."},
	}
	deltas := []library.EntityDelta{
		{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Mateer", Gender: "male", Occurrences: 1},
	}
	if err := store.CommitChapter(ctx, chapter, deltas); err != nil {
		t.Fatalf("CommitChapter failed: %v", err)
	}

	entity, err := store.LookupEntity(ctx, book.ID, library.CategoryCharacters, "马泰尔")
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if entity.Translation != "Mateer" || entity.Count != 1 || entity.LastChapter != 1 {
		t.Fatalf("unexpected entity: %+v", entity)
	}
}

func TestCommitChapterReplayIsIdempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	chapter := &library.Chapter{BookID: book.ID, Number: 1, Title: "Chapter 1", Content: []string{"text"}}
	deltas := []library.EntityDelta{
		{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Mateer", Occurrences: 3},
	}
	if err := store.CommitChapter(ctx, chapter, deltas); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := store.CommitChapter(ctx, chapter, deltas); err != nil {
		t.Fatalf("replay commit failed: %v", err)
	}

	entity, err := store.LookupEntity(ctx, book.ID, library.CategoryCharacters, "马泰尔")
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if entity.Count != 3 {
		t.Fatalf("replay double-incremented count: %d", entity.Count)
	}
	if entity.LastChapter != 1 {
		t.Fatalf("unexpected last chapter: %d", entity.LastChapter)
	}
}

func TestCommitChapterResolvedConflictRecordsOverride(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	one := &library.Chapter{BookID: book.ID, Number: 1, Title: "Chapter 1", Content: []string{"a"}}
	if err := store.CommitChapter(ctx, one, []library.EntityDelta{
		{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Mateer", Occurrences: 1},
	}); err != nil {
		t.Fatalf("commit chapter 1 failed: %v", err)
	}

	five := &library.Chapter{BookID: book.ID, Number: 5, Title: "Chapter 5", Content: []string{"b"}}
	if err := store.CommitChapter(ctx, five, []library.EntityDelta{
		{
			Category:             library.CategoryCharacters,
			Key:                  "马泰尔",
			Translation:          "Martel",
			Occurrences:          1,
			IncorrectTranslation: "Mateer",
		},
	}); err != nil {
		t.Fatalf("commit chapter 5 failed: %v", err)
	}

	entity, err := store.LookupEntity(ctx, book.ID, library.CategoryCharacters, "马泰尔")
	if err != nil {
		t.Fatalf("LookupEntity failed: %v", err)
	}
	if entity.Translation != "Martel" {
		t.Fatalf("expected accepted translation, got %q", entity.Translation)
	}
	if entity.IncorrectTranslation != "Mateer" {
		t.Fatalf("expected superseded translation recorded, got %q", entity.IncorrectTranslation)
	}
	if entity.Count != 2 || entity.LastChapter != 5 {
		t.Fatalf("unexpected counters: count=%d last_chapter=%d", entity.Count, entity.LastChapter)
	}
}

func TestEntitiesForBookRelevanceWindow(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	for chapterNumber, key := range map[int]string{1: "甲", 50: "乙", 60: "丙"} {
		chapter := &library.Chapter{BookID: book.ID, Number: chapterNumber, Title: "ch", Content: []string{"x"}}
		err := store.CommitChapter(ctx, chapter, []library.EntityDelta{
			{Category: library.CategoryPlaces, Key: key, Translation: key + "-t", Occurrences: 1},
		})
		if err != nil {
			t.Fatalf("commit failed: %v", err)
		}
	}

	all, err := store.EntitiesForBook(ctx, book.ID, 0)
	if err != nil {
		t.Fatalf("EntitiesForBook failed: %v", err)
	}
	if all.Len() != 3 {
		t.Fatalf("expected 3 entities, got %d", all.Len())
	}
	if _, ok := all[library.CategoryCharacters]; !ok {
		t.Fatal("empty categories must still be present")
	}

	recent, err := store.EntitiesForBook(ctx, book.ID, 20)
	if err != nil {
		t.Fatalf("EntitiesForBook failed: %v", err)
	}
	if recent.Len() != 2 {
		t.Fatalf("expected entities from chapters 50 and 60 only, got %d", recent.Len())
	}
	if _, ok := recent[library.CategoryPlaces]["甲"]; ok {
		t.Fatal("chapter 1 entity should fall outside the window")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	chapter := &library.Chapter{BookID: book.ID, Number: 1, Title: "Chapter 1", Content: []string{"x"}}
	err := store.CommitChapter(ctx, chapter, []library.EntityDelta{
		{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Martel", Gender: "male", Occurrences: 2},
		{Category: library.CategoryPlaces, Key: "青云山", Translation: "Azure Cloud Mountain", Occurrences: 1},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	exported, err := store.ExportEntities(ctx, book.ID)
	if err != nil {
		t.Fatalf("ExportEntities failed: %v", err)
	}

	other := mustBook(t, store, "Ascension Copy")
	if _, err := store.ImportEntities(ctx, other.ID, exported, false); err != nil {
		t.Fatalf("ImportEntities failed: %v", err)
	}
	// Second import of the same file must not change the store.
	if _, err := store.ImportEntities(ctx, other.ID, exported, false); err != nil {
		t.Fatalf("second ImportEntities failed: %v", err)
	}

	reExported, err := store.ExportEntities(ctx, other.ID)
	if err != nil {
		t.Fatalf("re-export failed: %v", err)
	}
	if !bytes.Equal(exported, reExported) {
		t.Fatalf("round trip diverged:\n%s\nvs\n%s", exported, reExported)
	}
}

func TestFindAndFixDuplicates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	seed := []library.Entity{
		{BookID: book.ID, Category: library.CategoryCharacters, Key: "青云", Translation: "Azure Cloud", LastChapter: 3},
		{BookID: book.ID, Category: library.CategoryPlaces, Key: "青云山", Translation: "Azure Cloud", LastChapter: 7},
	}
	for _, entity := range seed {
		if _, err := store.AddEntity(ctx, entity); err != nil {
			t.Fatalf("AddEntity failed: %v", err)
		}
	}

	groups, err := store.FindDuplicates(ctx, book.ID)
	if err != nil {
		t.Fatalf("FindDuplicates failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d: %+v", len(groups), groups)
	}
	if groups[0].Kind != library.DuplicateTranslation || groups[0].Value != "Azure Cloud" {
		t.Fatalf("unexpected group: %+v", groups[0])
	}

	removed, err := store.FixDuplicates(ctx, book.ID)
	if err != nil {
		t.Fatalf("FixDuplicates failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed entity, got %d", removed)
	}

	if _, err := store.LookupEntity(ctx, book.ID, library.CategoryCharacters, "青云"); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected lower last_chapter entity deleted, got %v", err)
	}
	kept, err := store.LookupEntity(ctx, book.ID, library.CategoryPlaces, "青云山")
	if err != nil {
		t.Fatalf("expected higher last_chapter entity kept: %v", err)
	}
	if kept.LastChapter != 7 {
		t.Fatalf("unexpected survivor: %+v", kept)
	}
}

func TestAddEntityRejectsCrossCategoryKey(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	if _, err := store.AddEntity(ctx, library.Entity{
		BookID: book.ID, Category: library.CategoryCharacters, Key: "青云", Translation: "Azure Cloud",
	}); err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	if _, err := store.AddEntity(ctx, library.Entity{
		BookID: book.ID, Category: library.CategoryPlaces, Key: "青云", Translation: "Azure Cloud Peak",
	}); err == nil {
		t.Fatal("expected cross-category key to be rejected")
	}
}

func TestDeleteBookCascades(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	book := mustBook(t, store, "Ascension")

	chapter := &library.Chapter{BookID: book.ID, Number: 1, Title: "Chapter 1", Content: []string{"x"}}
	err := store.CommitChapter(ctx, chapter, []library.EntityDelta{
		{Category: library.CategoryCharacters, Key: "马泰尔", Translation: "Martel", Occurrences: 1},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if err := store.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("DeleteBook failed: %v", err)
	}
	if _, err := store.GetChapter(ctx, book.ID, 1); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected chapters removed, got %v", err)
	}
	if _, err := store.LookupEntity(ctx, book.ID, library.CategoryCharacters, "马泰尔"); !errors.Is(err, library.ErrNotFound) {
		t.Fatalf("expected entities removed, got %v", err)
	}
}

func TestEntitySetMergeLastWriteWins(t *testing.T) {
	first := library.NewEntitySet()
	first[library.CategoryCharacters]["马泰尔"] = library.EntityFields{Translation: "Mateer", LastChapter: 1}

	second := library.NewEntitySet()
	second[library.CategoryCharacters]["马泰尔"] = library.EntityFields{Translation: "Martel", LastChapter: 1}
	second[library.CategoryPlaces]["青云山"] = library.EntityFields{Translation: "Azure Cloud Mountain", LastChapter: 1}

	first.Merge(second)
	if first[library.CategoryCharacters]["马泰尔"].Translation != "Martel" {
		t.Fatalf("later chunk should win: %+v", first[library.CategoryCharacters]["马泰尔"])
	}
	if first.Len() != 2 {
		t.Fatalf("unexpected merged size: %d", first.Len())
	}
}
