package main

import (
	"context"
	"path/filepath"
	"testing"

	"weft/internal/queue"
	"weft/internal/testsupport"
)

func TestQueueStatusEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestQueueAddListAndRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "chapter_03.txt")
	testsupport.WriteFile(t, src, "第三章\n正文。")

	out, _, err := runCLI(t, []string{"queue", "add", "--book", "Test Novel", src}, env.configPath)
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Queued job")

	// Re-adding the same file is a no-op, not an error.
	out, _, err = runCLI(t, []string{"queue", "add", "--book", "Test Novel", src}, env.configPath)
	if err != nil {
		t.Fatalf("queue add duplicate: %v", err)
	}
	requireContains(t, out, "Skipped")

	out, _, err = runCLI(t, []string{"queue", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Test Novel")
	requireContains(t, out, "chapter_03")
	requireContains(t, out, string(queue.StatusPending))

	store := testsupport.MustOpenQueue(t, env.cfg)
	jobs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].ChapterHint != 3 {
		t.Fatalf("expected chapter hint 3, got %d", jobs[0].ChapterHint)
	}

	if _, _, err := runCLI(t, []string{"queue", "remove", "3975"}, env.configPath); err == nil {
		t.Fatal("expected error removing unknown job")
	}

	if _, _, err := runCLI(t, []string{"queue", "remove", "1"}, env.configPath); err != nil {
		t.Fatalf("queue remove: %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestQueueRetryAndClearFailed(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	store := testsupport.MustOpenQueue(t, env.cfg)
	job := testsupport.Enqueue(t, store, "Test Novel", filepath.Join(t.TempDir(), "ch1.txt"))
	job.SetFailed("backend unavailable")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Retrying 1 job(s)")

	refreshed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if refreshed.Status != queue.StatusPending {
		t.Fatalf("expected pending after retry, got %s", refreshed.Status)
	}

	refreshed.SetFailed("backend unavailable")
	if err := store.Update(ctx, refreshed); err != nil {
		t.Fatalf("mark failed again: %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 job(s)")
}
