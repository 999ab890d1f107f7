package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/logging"
	"weft/internal/providers"
	"weft/internal/services"
)

// adviceContextRadius is how many runes around an occurrence of the entity
// key are excerpted from the chapter source for the advice call.
const adviceContextRadius = 35

// adviceExcerptLimit caps how many occurrences are excerpted.
const adviceExcerptLimit = 3

const advicePrompt = `Your task is to offer translation options. The user text is a JSON node
describing an entity translation you performed previously, which may include
"context" excerpts of the surrounding untranslated text. The user did not like
the translation and wants to change it, so offer three alternatives, plus a
short message (less than 200 words) about the untranslated source characters
and why you chose to translate it this way.

Include a very literal translation of each character in your message, but not
necessarily in your alternatives, unless the translation is phonetic (foreign
words). Order the alternatives by your preference, and use the context to tune
your advice when it is offered.

One of the most common rejections is plain transliteration, so if you
transliterated last time, do not do so this time.

IMPORTANT: if "existing_translations" is present in the node, AVOID suggesting
translations identical or very similar to them, as this would cause confusion.

Your output must be JSON in this schema:
{
    "message": "Your message to the user",
    "options": ["translation option 1", "translation option 2", "translation option 3"]
}

Do not include your original translation among the options.`

// AdviceQuery asks for alternative translations of one entity, usually one
// the reader rejected during review.
type AdviceQuery struct {
	BookID      int64
	Category    library.Category
	Key         string
	Translation string
	Gender      string
	// SourceText is the chapter's untranslated text; occurrences of Key in it
	// are excerpted as context for the model.
	SourceText string
}

// adviceNode is the JSON node handed to the model as the user message.
type adviceNode struct {
	Untranslated         string            `json:"untranslated"`
	Translation          string            `json:"translation"`
	Category             string            `json:"category,omitempty"`
	Gender               string            `json:"gender,omitempty"`
	Context              []string          `json:"context,omitempty"`
	ExistingTranslations []adviceExistingT `json:"existing_translations,omitempty"`
}

type adviceExistingT struct {
	Translation  string `json:"translation"`
	Category     string `json:"category"`
	Untranslated string `json:"untranslated"`
}

// Advisor fetches alternative translations for an entity from the configured
// advice model. The backend factory is swappable for tests.
type Advisor struct {
	cfg     *config.Config
	store   *library.Store
	logger  *slog.Logger
	backend TranslatorFactory
}

// NewAdvisor builds an Advisor over the same store the pipeline commits to;
// the store feeds the avoid-list of existing translations.
func NewAdvisor(cfg *config.Config, store *library.Store, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Advisor{cfg: cfg, store: store, logger: logger, backend: providers.ForSpec}
}

// WithBackend swaps the backend factory. Tests use it to stub providers.
func (a *Advisor) WithBackend(factory TranslatorFactory) *Advisor {
	a.backend = factory
	return a
}

// Advise asks the advice model for alternatives to the queried translation.
// The model spec comes from translation.advice_model, falling back to the
// default translation model.
func (a *Advisor) Advise(ctx context.Context, query *AdviceQuery) (*providers.Advice, error) {
	if strings.TrimSpace(query.Key) == "" {
		return nil, services.Wrap(services.ErrValidation, "advice", "query", "empty entity key", nil)
	}

	spec := strings.TrimSpace(a.cfg.Translation.AdviceModel)
	if spec == "" {
		spec = a.cfg.Translation.Model
	}
	translator, model, _, err := a.backend(a.cfg, spec, a.logger)
	if err != nil {
		return nil, err
	}
	adviser, ok := translator.(providers.Adviser)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "advice", "provider",
			fmt.Sprintf("backend %s does not support advice calls", translator.Name()), nil)
	}

	node := adviceNode{
		Untranslated: query.Key,
		Translation:  query.Translation,
		Category:     string(query.Category),
		Gender:       query.Gender,
		Context:      contextExcerpts(query.SourceText, query.Key, adviceContextRadius, adviceExcerptLimit),
	}
	if a.store != nil && query.BookID > 0 {
		node.ExistingTranslations, err = a.existingTranslations(ctx, query.BookID, query.Key)
		if err != nil {
			// The avoid-list is advisory; log and carry on without it.
			a.logger.Warn("loading existing translations for advice failed", logging.Error(err))
		}
	}
	payload, err := json.MarshalIndent(node, "", "    ")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "advice", "encode query", "", err)
	}

	a.logger.Info("requesting translation advice",
		logging.String(logging.FieldModel, model),
		logging.String("entity", query.Key),
	)
	advice, err := adviser.Advise(ctx, &providers.Request{
		Model:        model,
		SystemPrompt: advicePrompt,
		Text:         string(payload),
	})
	if err != nil {
		return nil, err
	}
	return advice, nil
}

// existingTranslations lists the book's other entities so the model can steer
// clear of translations already in use.
func (a *Advisor) existingTranslations(ctx context.Context, bookID int64, key string) ([]adviceExistingT, error) {
	stored, err := a.store.EntitiesForBook(ctx, bookID, 0)
	if err != nil {
		return nil, err
	}
	var out []adviceExistingT
	for _, categoryName := range providers.Categories {
		category := library.Category(categoryName)
		for storedKey, fields := range stored[category] {
			if storedKey == key || strings.TrimSpace(fields.Translation) == "" {
				continue
			}
			out = append(out, adviceExistingT{
				Translation:  fields.Translation,
				Category:     categoryName,
				Untranslated: storedKey,
			})
		}
	}
	return out, nil
}

// contextExcerpts collects windows of radius runes around occurrences of key
// in text, at most limit of them.
func contextExcerpts(text, key string, radius, limit int) []string {
	if strings.TrimSpace(text) == "" || key == "" {
		return nil
	}
	runes := []rune(text)
	keyRunes := []rune(key)
	var excerpts []string
	for i := 0; i+len(keyRunes) <= len(runes) && len(excerpts) < limit; i++ {
		if string(runes[i:i+len(keyRunes)]) != key {
			continue
		}
		start := i - radius
		if start < 0 {
			start = 0
		}
		end := i + len(keyRunes) + radius
		if end > len(runes) {
			end = len(runes)
		}
		excerpt := strings.TrimSpace(strings.ReplaceAll(string(runes[start:end]), "\n", " "))
		excerpts = append(excerpts, excerpt)
		i = end - 1
	}
	return excerpts
}
