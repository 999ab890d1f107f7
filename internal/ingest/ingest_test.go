package ingest_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"weft/internal/ingest"
	"weft/internal/logging"
	"weft/internal/testsupport"
)

func TestAddFileQueuesWithTitleAndChapterHint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	svc := ingest.NewService(cfg, store, logging.NewNop())

	path := filepath.Join(t.TempDir(), "chapter_07.txt")
	testsupport.WriteFile(t, path, "第七章原文。")

	job, err := svc.AddFile(context.Background(), "Test Novel", path, "")
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if job.ChapterTitle != "chapter_07" {
		t.Fatalf("title = %q, want chapter_07", job.ChapterTitle)
	}
	if job.ChapterHint != 7 {
		t.Fatalf("chapter hint = %d, want 7", job.ChapterHint)
	}

	dup, err := svc.AddFile(context.Background(), "Test Novel", path, "")
	if !errors.Is(err, ingest.ErrAlreadyQueued) {
		t.Fatalf("duplicate add error = %v, want ErrAlreadyQueued", err)
	}
	if dup == nil || dup.ID != job.ID {
		t.Fatal("duplicate add should surface the existing job")
	}
}

func TestAddDirectoryAutoSortsByEmbeddedNumber(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	svc := ingest.NewService(cfg, store, logging.NewNop())

	dir := t.TempDir()
	for _, name := range []string{"ch10.txt", "ch2.txt", "ch1.txt"} {
		testsupport.WriteFile(t, filepath.Join(dir, name), "正文。")
	}

	jobs, err := svc.AddDirectory(context.Background(), "Test Novel", dir, "*.txt", ingest.SortAuto, "")
	if err != nil {
		t.Fatalf("AddDirectory failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("job count = %d, want 3", len(jobs))
	}
	wantHints := []int{1, 2, 10}
	for i, job := range jobs {
		if job.ChapterHint != wantHints[i] {
			t.Fatalf("job %d hint = %d, want %d", i, job.ChapterHint, wantHints[i])
		}
	}
	if jobs[0].Position >= jobs[1].Position || jobs[1].Position >= jobs[2].Position {
		t.Fatal("queue positions must follow chapter order")
	}
}

func TestAddDirectoryFallsBackToNameOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	svc := ingest.NewService(cfg, store, logging.NewNop())

	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "beta.txt"), "正文。")
	testsupport.WriteFile(t, filepath.Join(dir, "alpha.txt"), "正文。")

	jobs, err := svc.AddDirectory(context.Background(), "Test Novel", dir, "*.txt", ingest.SortAuto, "")
	if err != nil {
		t.Fatalf("AddDirectory failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("job count = %d, want 2", len(jobs))
	}
	if jobs[0].ChapterTitle != "alpha" || jobs[1].ChapterTitle != "beta" {
		t.Fatalf("order = %q, %q; want alpha, beta", jobs[0].ChapterTitle, jobs[1].ChapterTitle)
	}
}

func TestAddEPUBMaterializesChapters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	svc := ingest.NewService(cfg, store, logging.NewNop())

	epubPath := writeTestEPUB(t)
	jobs, err := svc.AddEPUB(context.Background(), "", epubPath, "")
	if err != nil {
		t.Fatalf("AddEPUB failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("job count = %d, want 2", len(jobs))
	}
	for i, job := range jobs {
		if job.BookName != "测试小说" {
			t.Fatalf("book name = %q, want epub title", job.BookName)
		}
		if job.ChapterHint != i+1 {
			t.Fatalf("job %d hint = %d, want %d", i, job.ChapterHint, i+1)
		}
		data, err := os.ReadFile(job.SourcePath)
		if err != nil {
			t.Fatalf("chapter file missing: %v", err)
		}
		if len(data) == 0 {
			t.Fatal("chapter file is empty")
		}
		if !strings.HasPrefix(job.SourcePath, cfg.Paths.DataDir) {
			t.Fatalf("chapter file %q outside data dir", job.SourcePath)
		}
	}
	if jobs[0].ChapterTitle != "第1章 出发" {
		t.Fatalf("title = %q", jobs[0].ChapterTitle)
	}
}

func TestParseSortStrategy(t *testing.T) {
	if got, err := ingest.ParseSortStrategy(""); err != nil || got != ingest.SortAuto {
		t.Fatalf("empty strategy = %v, %v", got, err)
	}
	if _, err := ingest.ParseSortStrategy("alphabetical"); err == nil {
		t.Fatal("unknown strategy should fail")
	}
}

func writeTestEPUB(t *testing.T) string {
	t.Helper()
	longLine := strings.Repeat("他沿着长街走了很久。", 5)
	entries := map[string]string{
		"META-INF/container.xml": `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>测试小说</dc:title>
    <dc:language>zh</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`,
		"OEBPS/ch1.xhtml": "<html><body><h1>第1章 出发</h1><p>" + longLine + "</p></body></html>",
		"OEBPS/ch2.xhtml": "<html><body><h1>第2章 归来</h1><p>" + longLine + "</p></body></html>",
	}

	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}
