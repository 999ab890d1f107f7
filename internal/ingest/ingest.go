// Package ingest feeds source material into the translation queue.
//
// It accepts single text files, directories of chapter files, and EPUB
// archives. Jobs are appended in reading order and never reordered once
// queued.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"weft/internal/config"
	"weft/internal/epub"
	"weft/internal/logging"
	"weft/internal/queue"
)

// ErrAlreadyQueued reports a source file that already has an active job.
var ErrAlreadyQueued = errors.New("source already queued")

// SortStrategy controls the ordering of directory ingestion.
type SortStrategy string

const (
	// SortAuto orders by chapter numbers embedded in file names when any are
	// present, otherwise by name.
	SortAuto SortStrategy = "auto"
	// SortName orders alphabetically by file name.
	SortName SortStrategy = "name"
	// SortModified orders by modification time, oldest first.
	SortModified SortStrategy = "modified"
	// SortNone keeps the glob's order.
	SortNone SortStrategy = "none"
)

// ParseSortStrategy validates a strategy name, defaulting empty to auto.
func ParseSortStrategy(value string) (SortStrategy, error) {
	switch SortStrategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", SortAuto:
		return SortAuto, nil
	case SortName:
		return SortName, nil
	case SortModified:
		return SortModified, nil
	case SortNone:
		return SortNone, nil
	}
	return "", fmt.Errorf("unknown sort strategy %q", value)
}

// chapterFromName matches "chapter 12", "ch_12", "第12", or a leading number.
var chapterFromName = regexp.MustCompile(`(?i)(?:chapter|ch|第)[\s_-]*(\d+)|^(\d+)`)

// Service enqueues translation jobs from files on disk.
type Service struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
}

// NewService builds an ingestion service.
func NewService(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{cfg: cfg, store: store, logger: logger}
}

// AddFile enqueues one text file as a chapter of the named book.
func (s *Service) AddFile(ctx context.Context, bookName, sourcePath, modelSpec string) (*queue.Job, error) {
	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sourcePath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use AddDirectory", absPath)
	}

	if existing, err := s.store.FindBySource(ctx, bookName, absPath); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, fmt.Errorf("%w: job %d", ErrAlreadyQueued, existing.ID)
	}

	title, hint := titleAndHint(absPath)
	job, err := s.store.Enqueue(ctx, bookName, absPath, title, modelSpec, hint)
	if err != nil {
		return nil, err
	}
	s.logger.Info("queued file",
		logging.Int64("job_id", job.ID),
		logging.String("book", bookName),
		logging.String("source", absPath),
	)
	return job, nil
}

// AddDirectory enqueues every file in dir matching pattern, ordered by the
// given strategy. Files already queued for the book are skipped.
func (s *Service) AddDirectory(ctx context.Context, bookName, dir, pattern string, strategy SortStrategy, modelSpec string) ([]*queue.Job, error) {
	if pattern == "" {
		pattern = "*.txt"
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		if fi, err := os.Stat(match); err == nil && fi.Mode().IsRegular() {
			files = append(files, match)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching %q in %s", pattern, dir)
	}

	sortFiles(files, strategy)

	jobs := make([]*queue.Job, 0, len(files))
	for _, file := range files {
		job, err := s.AddFile(ctx, bookName, file, modelSpec)
		if err != nil {
			if errors.Is(err, ErrAlreadyQueued) {
				s.logger.Warn("skipping queued source", logging.String("source", file))
				continue
			}
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// AddEPUB extracts chapters from an EPUB and enqueues one job per chapter.
// Chapter text is materialized under the data directory so jobs survive the
// original archive moving. An empty bookName falls back to the EPUB title.
func (s *Service) AddEPUB(ctx context.Context, bookName, epubPath, modelSpec string) ([]*queue.Job, error) {
	book, err := epub.Open(epubPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(bookName) == "" {
		bookName = book.Title
	}
	if strings.TrimSpace(bookName) == "" {
		return nil, fmt.Errorf("epub carries no title, pass a book name")
	}

	chapterDir := filepath.Join(s.cfg.Paths.DataDir, "sources", slugify(bookName))
	if err := os.MkdirAll(chapterDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chapter dir: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(book.Chapters))
	for i, chapter := range book.Chapters {
		path := filepath.Join(chapterDir, fmt.Sprintf("chapter_%04d.txt", i+1))
		if err := os.WriteFile(path, []byte(chapter.Content), 0o644); err != nil {
			return jobs, fmt.Errorf("write chapter %d: %w", i+1, err)
		}
		job, err := s.store.Enqueue(ctx, bookName, path, chapter.Title, modelSpec, chapter.Number)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	s.logger.Info("queued epub",
		logging.String("book", bookName),
		logging.String("source", epubPath),
		logging.Int("chapters", len(jobs)),
	)
	return jobs, nil
}

// titleAndHint derives a chapter title and optional chapter number from a
// file name. The hint stays 0 when the name carries no number, which lets
// the pipeline assign the next free slot.
func titleAndHint(path string) (string, int) {
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	return title, chapterHint(base)
}

func chapterHint(name string) int {
	match := chapterFromName.FindStringSubmatch(name)
	if match == nil {
		return 0
	}
	for _, group := range match[1:] {
		if group == "" {
			continue
		}
		if n, err := strconv.Atoi(group); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func sortFiles(files []string, strategy SortStrategy) {
	switch strategy {
	case SortNone:
		return
	case SortModified:
		sortBy(files, func(path string) int64 {
			fi, err := os.Stat(path)
			if err != nil {
				return 0
			}
			return fi.ModTime().UnixNano()
		})
	case SortName:
		sortBy(files, func(path string) int64 { return 0 })
	default: // SortAuto
		anyHint := false
		for _, file := range files {
			if chapterHint(filepath.Base(file)) > 0 {
				anyHint = true
				break
			}
		}
		if anyHint {
			sortBy(files, func(path string) int64 {
				hint := chapterHint(filepath.Base(path))
				if hint == 0 {
					return int64(^uint64(0) >> 2)
				}
				return int64(hint)
			})
		} else {
			sortBy(files, func(path string) int64 { return 0 })
		}
	}
}

// sortBy orders by key, breaking ties by base name for determinism.
func sortBy(files []string, key func(string) int64) {
	sort.SliceStable(files, func(i, j int) bool {
		ki, kj := key(files[i]), key(files[j])
		if ki != kj {
			return ki < kj
		}
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
}

var slugStrip = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

// slugify makes a book name safe as a directory component.
func slugify(name string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "book"
	}
	return slug
}
