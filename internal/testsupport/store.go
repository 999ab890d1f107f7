package testsupport

import (
	"context"
	"testing"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/queue"
)

// MustOpenQueue opens a queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenLibrary opens a library.Store for tests and registers cleanup.
func MustOpenLibrary(t testing.TB, cfg *config.Config) *library.Store {
	t.Helper()

	store, err := library.Open(cfg)
	if err != nil {
		t.Fatalf("library.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue adds a job for tests using the provided store.
func Enqueue(t testing.TB, store *queue.Store, bookName, sourcePath string) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), bookName, sourcePath, "", "", 0)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}
