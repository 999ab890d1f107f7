package library

import "time"

// Category identifies one of the six fixed entity groupings.
type Category string

const (
	CategoryCharacters    Category = "characters"
	CategoryPlaces        Category = "places"
	CategoryOrganizations Category = "organizations"
	CategoryAbilities     Category = "abilities"
	CategoryTitles        Category = "titles"
	CategoryEquipment     Category = "equipment"
)

var categories = []Category{
	CategoryCharacters,
	CategoryPlaces,
	CategoryOrganizations,
	CategoryAbilities,
	CategoryTitles,
	CategoryEquipment,
}

// Categories returns the fixed category list in canonical order.
func Categories() []Category {
	cp := make([]Category, len(categories))
	copy(cp, categories)
	return cp
}

// ValidCategory reports whether value names a known category.
func ValidCategory(value string) bool {
	for _, c := range categories {
		if string(c) == value {
			return true
		}
	}
	return false
}

// Book scopes chapters and entity consistency. Entity translations are never
// shared across books.
type Book struct {
	ID             int64
	Title          string
	Author         string
	Description    string
	SourceLanguage string
	TargetLanguage string
	// PromptTemplate overrides the default system prompt for this book when set.
	PromptTemplate string
	CreatedAt      time.Time
	ModifiedAt     time.Time
	ChapterCount   int
}

// Chapter holds one translated chapter. Content is an ordered sequence of
// text blocks; blank strings represent paragraph breaks.
type Chapter struct {
	ID            int64
	BookID        int64
	Number        int
	Title         string
	SourceContent []string
	Content       []string
	Summary       string
	Model         string
	TranslatedAt  time.Time
}

// Entity is a tracked proper noun with its canonical translation.
type Entity struct {
	ID          int64
	BookID      int64
	Category    Category
	Key         string
	Translation string
	// Gender is set for characters only: "male", "female", or "neither".
	Gender      string
	Count       int
	LastChapter int
	// IncorrectTranslation records a superseded translation after a human
	// override, so prior chapters can be rewritten.
	IncorrectTranslation string
}

// EntityFields is the wire/export shape of a single entity's data.
type EntityFields struct {
	Translation          string `json:"translation"`
	Gender               string `json:"gender,omitempty"`
	Count                int    `json:"count,omitempty"`
	LastChapter          int    `json:"last_chapter"`
	IncorrectTranslation string `json:"incorrect_translation,omitempty"`
}

// EntitySet maps category -> key -> fields. All six categories are always
// present, empty maps included.
type EntitySet map[Category]map[string]EntityFields

// NewEntitySet returns a set with every category initialized.
func NewEntitySet() EntitySet {
	set := make(EntitySet, len(categories))
	for _, c := range categories {
		set[c] = make(map[string]EntityFields)
	}
	return set
}

// Merge overlays other onto the set, later values replacing earlier ones for
// the same key. Used to union per-chunk entity maps within a chapter.
func (s EntitySet) Merge(other EntitySet) {
	for _, c := range categories {
		for key, fields := range other[c] {
			s[c][key] = fields
		}
	}
}

// Len counts entities across all categories.
func (s EntitySet) Len() int {
	total := 0
	for _, c := range categories {
		total += len(s[c])
	}
	return total
}

// EntityDelta is one resolved entity change to apply during a chapter commit.
type EntityDelta struct {
	Category    Category
	Key         string
	Translation string
	Gender      string
	// Occurrences is how many times the key appears in the chapter text.
	Occurrences int
	// IncorrectTranslation carries the superseded value when a human accepted
	// a changed translation for an existing entity.
	IncorrectTranslation string
}

// DuplicateKind distinguishes the two collision classes FindDuplicates reports.
type DuplicateKind string

const (
	// DuplicateKey flags the same untranslated key present in more than one category.
	DuplicateKey DuplicateKind = "key"
	// DuplicateTranslation flags the same translation used for different keys.
	DuplicateTranslation DuplicateKind = "translation"
)

// DuplicateGroup is one set of colliding entities.
type DuplicateGroup struct {
	Kind     DuplicateKind
	Value    string
	Entities []Entity
}
