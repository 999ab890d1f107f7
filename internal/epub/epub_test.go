package epub_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"weft/internal/epub"
)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func opfXML(spine ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>测试小说</dc:title>
    <dc:creator>Some Author</dc:creator>
    <dc:language>zh</dc:language>
  </metadata>
  <manifest>
`)
	for _, id := range spine {
		sb.WriteString(`    <item id="` + id + `" href="` + id + `.xhtml" media-type="application/xhtml+xml"/>` + "\n")
	}
	sb.WriteString(`  </manifest>
  <spine>
`)
	for _, id := range spine {
		sb.WriteString(`    <itemref idref="` + id + `"/>` + "\n")
	}
	sb.WriteString(`  </spine>
</package>`)
	return sb.String()
}

func chapterDoc(title string, paragraphs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>x</title><style>p { margin: 0 }</style></head><body>`)
	sb.WriteString("<h1>" + title + "</h1>")
	for _, p := range paragraphs {
		sb.WriteString("<p>" + p + "</p>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func writeEPUB(t *testing.T, entries map[string]string) string {
	t.Helper()
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

func TestOpenExtractsChaptersInSpineOrder(t *testing.T) {
	longLine := strings.Repeat("他沿着长街走了很久。", 5)
	path := writeEPUB(t, map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": containerXML,
		"OEBPS/content.opf":      opfXML("cover", "ch1", "ch2"),
		"OEBPS/cover.xhtml":      `<html><body><p>封面</p></body></html>`,
		"OEBPS/ch1.xhtml":        chapterDoc("第1章 出发", longLine, longLine),
		"OEBPS/ch2.xhtml":        chapterDoc("第2章 归来", longLine, longLine),
	})

	book, err := epub.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if book.Title != "测试小说" || book.Author != "Some Author" || book.Language != "zh" {
		t.Fatalf("metadata = %q/%q/%q", book.Title, book.Author, book.Language)
	}
	if len(book.Chapters) != 2 {
		t.Fatalf("chapter count = %d, want 2 (cover skipped)", len(book.Chapters))
	}
	if book.Chapters[0].Title != "第1章 出发" || book.Chapters[0].Number != 1 {
		t.Fatalf("first chapter = %q #%d", book.Chapters[0].Title, book.Chapters[0].Number)
	}
	if book.Chapters[1].Title != "第2章 归来" || book.Chapters[1].Number != 2 {
		t.Fatalf("second chapter = %q #%d", book.Chapters[1].Title, book.Chapters[1].Number)
	}
	if !strings.Contains(book.Chapters[0].Content, "\n\n") {
		t.Fatal("paragraph breaks should survive extraction")
	}
	if strings.Contains(book.Chapters[0].Content, "<") {
		t.Fatalf("content still contains markup: %q", book.Chapters[0].Content)
	}
}

func TestOpenDropsFrontMatterWhenChaptersAreMarked(t *testing.T) {
	longLine := strings.Repeat("She walked on through the rain for a long while. ", 3)
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml": containerXML,
		"OEBPS/content.opf":      opfXML("preface", "ch1"),
		"OEBPS/preface.xhtml":    chapterDoc("A Note on the Text", longLine, longLine),
		"OEBPS/ch1.xhtml":        chapterDoc("Chapter 1: The Road", longLine, longLine),
	})

	book, err := epub.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(book.Chapters) != 1 {
		t.Fatalf("chapter count = %d, want 1", len(book.Chapters))
	}
	if book.Chapters[0].Title != "Chapter 1: The Road" {
		t.Fatalf("title = %q", book.Chapters[0].Title)
	}
}

func TestOpenRejectsEmptyArchive(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml": containerXML,
		"OEBPS/content.opf":      opfXML("ch1"),
		"OEBPS/ch1.xhtml":        `<html><body><p>短</p></body></html>`,
	})
	if _, err := epub.Open(path); err == nil {
		t.Fatal("expected an error when no chapter survives filtering")
	}
}

func TestStripHTML(t *testing.T) {
	doc := `<html><head><style>p{}</style><script>var x = "<p>";</script></head>` +
		`<body><h2>Title&nbsp;Here</h2><p>First&amp;last.</p><p>Second<br/>line.</p></body></html>`
	got := epub.StripHTML(doc)
	want := "Title Here\n\nFirst&last.\n\nSecond\n\nline."
	if got != want {
		t.Fatalf("StripHTML = %q, want %q", got, want)
	}
}
