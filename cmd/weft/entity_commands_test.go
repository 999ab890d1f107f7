package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"weft/internal/library"
	"weft/internal/testsupport"
)

func TestEntitySetListAndCorrection(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	if _, _, err := runCLI(t, []string{"book", "create", "Test Novel"}, env.configPath); err != nil {
		t.Fatalf("book create: %v", err)
	}

	out, _, err := runCLI(t, []string{
		"entity", "set", "Test Novel", "characters", "克莱恩", "Klein", "--gender", "male",
	}, env.configPath)
	if err != nil {
		t.Fatalf("entity set: %v", err)
	}
	requireContains(t, out, "Added characters/克莱恩 -> Klein")

	out, _, err = runCLI(t, []string{"entity", "list", "Test Novel"}, env.configPath)
	if err != nil {
		t.Fatalf("entity list: %v", err)
	}
	requireContains(t, out, "克莱恩")
	requireContains(t, out, "Klein")
	requireContains(t, out, "male")

	// Correcting the translation records the superseded value.
	out, _, err = runCLI(t, []string{
		"entity", "set", "Test Novel", "characters", "克莱恩", "Klein Moretti",
	}, env.configPath)
	if err != nil {
		t.Fatalf("entity correct: %v", err)
	}
	requireContains(t, out, "Updated characters/克莱恩 -> Klein Moretti")

	books := testsupport.MustOpenLibrary(t, env.cfg)
	book, err := books.GetBookByTitle(ctx, "Test Novel")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	entity, err := books.LookupEntity(ctx, book.ID, library.CategoryCharacters, "克莱恩")
	if err != nil {
		t.Fatalf("lookup entity: %v", err)
	}
	if entity.Translation != "Klein Moretti" {
		t.Fatalf("expected corrected translation, got %q", entity.Translation)
	}
	if entity.IncorrectTranslation != "Klein" {
		t.Fatalf("expected superseded translation recorded, got %q", entity.IncorrectTranslation)
	}

	if _, _, err := runCLI(t, []string{"entity", "delete", "Test Novel", "characters", "克莱恩"}, env.configPath); err != nil {
		t.Fatalf("entity delete: %v", err)
	}
	out, _, err = runCLI(t, []string{"entity", "list", "Test Novel"}, env.configPath)
	if err != nil {
		t.Fatalf("entity list after delete: %v", err)
	}
	requireContains(t, out, "No entities tracked")
}

func TestEntityExportImportRoundTrip(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"book", "create", "Source"}, env.configPath); err != nil {
		t.Fatalf("create source book: %v", err)
	}
	if _, _, err := runCLI(t, []string{"book", "create", "Clone"}, env.configPath); err != nil {
		t.Fatalf("create clone book: %v", err)
	}
	if _, _, err := runCLI(t, []string{
		"entity", "set", "Source", "places", "贝克兰德", "Backlund",
	}, env.configPath); err != nil {
		t.Fatalf("entity set: %v", err)
	}

	exportPath := filepath.Join(t.TempDir(), "entities.json")
	out, _, err := runCLI(t, []string{"entity", "export", "Source", "--out", exportPath}, env.configPath)
	if err != nil {
		t.Fatalf("entity export: %v", err)
	}
	requireContains(t, out, "Exported")

	out, _, err = runCLI(t, []string{"entity", "import", "Clone", exportPath}, env.configPath)
	if err != nil {
		t.Fatalf("entity import: %v", err)
	}
	requireContains(t, out, "Imported 1 entit(ies)")

	out, _, err = runCLI(t, []string{"entity", "list", "Clone"}, env.configPath)
	if err != nil {
		t.Fatalf("entity list: %v", err)
	}
	requireContains(t, out, "Backlund")
}

func TestEntityAdvisePrintsAlternatives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"message": "马 is horse, 泰 is peace, 尔 is you.", "options": ["Mathel", "Martell", "Ma Tai-er"]}`,
					},
					"finish_reason": "stop",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	t.Setenv("WEFT_TEST_API_KEY", "test-key")
	env := setupCLITestEnv(t)
	provider := env.cfg.Providers["openai"]
	provider.BaseURL = server.URL
	provider.APIKeyEnv = "WEFT_TEST_API_KEY"
	env.cfg.Providers["openai"] = provider
	env.cfg.Translation.AdviceModel = "openai:advice-model"
	writeTestConfig(t, env.configPath, env.cfg)

	if _, _, err := runCLI(t, []string{"book", "create", "Test Novel"}, env.configPath); err != nil {
		t.Fatalf("book create: %v", err)
	}
	if _, _, err := runCLI(t, []string{
		"entity", "set", "Test Novel", "characters", "马泰尔", "Martel",
	}, env.configPath); err != nil {
		t.Fatalf("entity set: %v", err)
	}

	out, _, err := runCLI(t, []string{"entity", "advise", "Test Novel", "马泰尔"}, env.configPath)
	if err != nil {
		t.Fatalf("entity advise: %v", err)
	}
	requireContains(t, out, `characters/马泰尔, currently "Martel"`)
	requireContains(t, out, "horse")
	requireContains(t, out, "[2] Martell")
	requireContains(t, out, "weft entity set")
}

func TestEntityAdviseUnknownKey(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"book", "create", "Test Novel"}, env.configPath); err != nil {
		t.Fatalf("book create: %v", err)
	}
	_, _, err := runCLI(t, []string{"entity", "advise", "Test Novel", "不存在"}, env.configPath)
	if err == nil {
		t.Fatal("expected an error for an unknown entity")
	}
}
