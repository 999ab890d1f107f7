// Package epub reads chapters out of EPUB archives.
//
// Extraction is minimal: container.xml locates the OPF package, the spine
// gives document order, and each document is reduced to plain paragraph
// text. Short spine entries such as cover and copyright pages are skipped.
// Writing EPUBs is out of scope.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Chapter is one spine document reduced to plain text. Content uses blank
// lines as paragraph breaks.
type Chapter struct {
	Title   string
	Content string
	// Number is parsed from the chapter title when present, otherwise the
	// 1-based spine position.
	Number int
	Href   string
}

// Book is the parsed archive.
type Book struct {
	Title    string
	Author   string
	Language string
	Chapters []Chapter
}

// minChapterRunes filters covers, dedications, and bare title pages.
const minChapterRunes = 50

var (
	chapterMarker = regexp.MustCompile(`(?i)chapter|第.{1,3}[章节篇回]|卷`)
	firstNumber   = regexp.MustCompile(`\d+`)
)

type containerDoc struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageDoc struct {
	Metadata struct {
		Title    string `xml:"title"`
		Creator  string `xml:"creator"`
		Language string `xml:"language"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Itemrefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// Open parses the EPUB at path and extracts its chapters in spine order.
func Open(archivePath string) (*Book, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer zr.Close()
	return read(&zr.Reader)
}

func read(zr *zip.Reader) (*Book, error) {
	opfPath, err := rootfilePath(zr)
	if err != nil {
		return nil, err
	}

	var pkg packageDoc
	if err := unmarshalEntry(zr, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("parse package %s: %w", opfPath, err)
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = item.Href
	}

	book := &Book{
		Title:    strings.TrimSpace(pkg.Metadata.Title),
		Author:   strings.TrimSpace(pkg.Metadata.Creator),
		Language: strings.TrimSpace(pkg.Metadata.Language),
	}

	opfDir := path.Dir(opfPath)
	for i, ref := range pkg.Spine.Itemrefs {
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			continue
		}
		entry := path.Clean(path.Join(opfDir, href))
		raw, err := readEntry(zr, entry)
		if err != nil {
			continue
		}
		text := StripHTML(string(raw))
		if utf8.RuneCountInString(text) < minChapterRunes {
			continue
		}
		title := titleFromText(text)
		book.Chapters = append(book.Chapters, Chapter{
			Title:   title,
			Content: text,
			Number:  chapterNumber(title, i+1),
			Href:    href,
		})
	}

	if len(book.Chapters) == 0 {
		return nil, fmt.Errorf("no chapters found in epub")
	}

	// When some documents carry recognizable chapter markers, the rest are
	// front and back matter.
	marked := book.Chapters[:0:0]
	for _, ch := range book.Chapters {
		if chapterMarker.MatchString(ch.Title) || chapterMarker.MatchString(prefixRunes(ch.Content, 200)) {
			marked = append(marked, ch)
		}
	}
	if len(marked) > 0 {
		book.Chapters = marked
	}
	return book, nil
}

func rootfilePath(zr *zip.Reader) (string, error) {
	var c containerDoc
	if err := unmarshalEntry(zr, "META-INF/container.xml", &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	for _, rf := range c.Rootfiles {
		if strings.TrimSpace(rf.FullPath) != "" {
			return rf.FullPath, nil
		}
	}
	return "", fmt.Errorf("container.xml names no rootfile")
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("entry %s not found", name)
}

func unmarshalEntry(zr *zip.Reader, name string, v any) error {
	data, err := readEntry(zr, name)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, v)
}

// titleFromText picks the first short line as the chapter title.
func titleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) < 100 {
			return line
		}
		break
	}
	return ""
}

// chapterNumber pulls the first digit run out of the title, falling back to
// the spine position.
func chapterNumber(title string, position int) int {
	if match := firstNumber.FindString(title); match != "" {
		if n, err := strconv.Atoi(match); err == nil && n > 0 {
			return n
		}
	}
	return position
}

func prefixRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
