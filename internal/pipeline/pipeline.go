// Package pipeline drives one chapter translation end to end: build prompt
// context from the entity store, dispatch chunks to a model backend,
// aggregate the structured results, reconcile entities against the store, and
// commit chapter plus entity deltas atomically.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/logging"
	"weft/internal/providers"
	"weft/internal/services"
	"weft/internal/textchunk"
)

// Job is one chapter translation request.
type Job struct {
	BookID int64
	// ChapterNumber fixes the chapter slot; 0 means next unused number, with
	// the model's own chapter guess considered first.
	ChapterNumber int
	// Title is a hint used when the model returns no title.
	Title string
	// Source is the chapter's untranslated text.
	Source string
	// ModelSpec is a "provider:model" string; empty uses the configured default.
	ModelSpec string
	RequestID string
	// OnProgress receives streaming updates from the provider, when supported.
	OnProgress func(providers.Progress)
	// OnChunk is called before each chunk dispatch with 1-based index and total.
	OnChunk func(index, total int)
}

// Outcome reports a finished (or parked) chapter run.
type Outcome struct {
	Chapter  *library.Chapter
	Result   *providers.Result
	Review   *Review
	Deltas   []library.EntityDelta
	Warnings []string
	Chunks   int
}

// TranslatorFactory resolves a model spec to a backend. Swappable for tests.
type TranslatorFactory func(cfg *config.Config, spec string, logger *slog.Logger) (providers.Translator, string, int, error)

// Pipeline owns the per-chapter state machine.
type Pipeline struct {
	cfg        *config.Config
	store      *library.Store
	resolver   Resolver
	logger     *slog.Logger
	translator TranslatorFactory
}

// New builds a Pipeline. resolver may be nil, in which case any entity
// conflict parks the job for review.
func New(cfg *config.Config, store *library.Store, resolver Resolver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		logger:     logger,
		translator: providers.ForSpec,
	}
}

// WithTranslator swaps the backend factory. Tests use it to stub providers.
func (p *Pipeline) WithTranslator(factory TranslatorFactory) *Pipeline {
	p.translator = factory
	return p
}

// Run translates one chapter. When the review carries new entities or
// conflicts and no resolver is attached, the returned error matches
// services.ErrConflict and the Outcome still carries the aggregated Result so
// the caller can stash it and resume later without repeating provider calls.
func (p *Pipeline) Run(ctx context.Context, job *Job) (*Outcome, error) {
	if strings.TrimSpace(job.Source) == "" {
		return nil, services.Wrap(services.ErrValidation, "translate", "input", "empty source text", nil)
	}

	spec := job.ModelSpec
	if strings.TrimSpace(spec) == "" {
		spec = p.cfg.Translation.Model
	}
	translator, model, maxChars, err := p.translator(p.cfg, spec, p.logger)
	if err != nil {
		return nil, err
	}

	book, err := p.store.GetBook(ctx, job.BookID)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "translate", "book", fmt.Sprintf("book %d", job.BookID), err)
	}

	known, err := p.store.EntitiesForBook(ctx, book.ID, p.cfg.Translation.ContextChapters)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "translate", "load entities", "", err)
	}

	chunks, err := textchunk.Split(job.Source, maxChars)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, services.Wrap(services.ErrChunkOverflow, "translate", "chunk", "splitter produced no chunks", nil)
	}
	for i, chunk := range chunks {
		if size := utf8.RuneCountInString(chunk); size > maxChars {
			return nil, services.Wrap(services.ErrChunkOverflow, "translate", "chunk",
				fmt.Sprintf("chunk %d is %d chars against a budget of %d", i+1, size, maxChars), nil)
		}
	}

	logger := p.logger.With(
		logging.String(logging.FieldBook, book.Title),
		logging.String(logging.FieldModel, model),
		logging.Int(logging.FieldChunkCount, len(chunks)),
	)
	logger.Info("translating chapter", logging.Int("source_chars", utf8.RuneCountInString(job.Source)))

	pctx := promptContext{
		Template:       book.PromptTemplate,
		SourceLanguage: firstNonEmpty(book.SourceLanguage, p.cfg.Translation.SourceLanguage),
		TargetLanguage: firstNonEmpty(book.TargetLanguage, p.cfg.Translation.TargetLanguage),
	}
	targetLanguage := languageName(pctx.TargetLanguage)

	var agg aggregate
	for i, chunk := range chunks {
		if job.OnChunk != nil {
			job.OnChunk(i+1, len(chunks))
		}
		prompt, err := buildSystemPrompt(pctx, known, job.Source)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "translate", "prompt", "", err)
		}

		request := &providers.Request{
			Model:        model,
			SystemPrompt: prompt,
			Text:         fmt.Sprintf("Translate the following into %s: \n%s", targetLanguage, chunk),
			RequestID:    job.RequestID,
			OnProgress:   job.OnProgress,
		}
		result, err := translator.Translate(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		logger.Debug("chunk translated", logging.Int(logging.FieldChunkIndex, i+1))

		agg.add(result)
		// Entities discovered so far feed the next chunk's prompt so the
		// model keeps within-chapter naming consistent.
		known.Merge(wireEntitySet(result.Entities))
	}

	return p.finish(ctx, book, job, &agg, model, len(chunks))
}

// Resume completes a run whose aggregated result was stashed when a conflict
// parked the job. No provider calls happen; reconciliation runs again with
// whatever resolver is now attached.
func (p *Pipeline) Resume(ctx context.Context, job *Job, resultJSON []byte) (*Outcome, error) {
	var result providers.Result
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, services.Wrap(services.ErrValidation, "resume", "stashed result", "", err)
	}

	book, err := p.store.GetBook(ctx, job.BookID)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "resume", "book", fmt.Sprintf("book %d", job.BookID), err)
	}

	spec := job.ModelSpec
	if strings.TrimSpace(spec) == "" {
		spec = p.cfg.Translation.Model
	}
	_, _, model, err := p.cfg.ProviderFor(spec)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resume", "provider", "", err)
	}

	var agg aggregate
	agg.add(&result)
	return p.finish(ctx, book, job, &agg, model, 0)
}

func (p *Pipeline) finish(ctx context.Context, book *library.Book, job *Job, agg *aggregate, model string, chunks int) (*Outcome, error) {
	stored, err := p.store.EntitiesForBook(ctx, book.ID, 0)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "reconcile", "load entities", "", err)
	}

	chapterNumber, err := p.chapterNumber(ctx, book.ID, job, agg.result)
	if err != nil {
		return nil, err
	}

	review := buildReview(book, chapterNumber, stored, agg, job.Source)
	outcome := &Outcome{
		Result:   agg.result,
		Review:   review,
		Warnings: review.Warnings,
		Chunks:   chunks,
	}

	var resolution *Resolution
	if len(review.NewEntities) > 0 || len(review.Conflicts) > 0 {
		// Unseen keys and changed translations both need a human decision
		// before anything is committed. Without a resolver the job parks and
		// the aggregated result is stashed for `queue resolve`.
		if p.resolver == nil {
			return outcome, errUnreviewedEntities(review)
		}
		resolution, err = p.resolver.Resolve(ctx, review)
		if err != nil {
			return outcome, services.Wrap(services.ErrConflict, "reconcile", "resolver", "", err)
		}
	}

	deltas, content, err := applyResolution(review, resolution, stored, agg.result.Content, job.Source)
	if err != nil {
		return outcome, err
	}

	title := agg.result.Title
	if title == "" {
		title = job.Title
	}
	chapter := &library.Chapter{
		BookID:        book.ID,
		Number:        chapterNumber,
		Title:         title,
		SourceContent: strings.Split(job.Source, "\n"),
		Content:       content,
		Summary:       agg.result.Summary,
		Model:         model,
	}
	if err := p.store.CommitChapter(ctx, chapter, deltas); err != nil {
		return outcome, services.Wrap(services.ErrTransient, "commit", "chapter", "", err)
	}

	p.logger.Info("chapter committed",
		logging.String(logging.FieldBook, book.Title),
		logging.Int(logging.FieldChapter, chapterNumber),
		logging.Int("entities", len(deltas)),
		logging.Int("warnings", len(review.Warnings)),
	)

	outcome.Chapter = chapter
	outcome.Deltas = deltas
	return outcome, nil
}

func (p *Pipeline) chapterNumber(ctx context.Context, bookID int64, job *Job, result *providers.Result) (int, error) {
	if job.ChapterNumber > 0 {
		return job.ChapterNumber, nil
	}
	if result != nil && result.Chapter > 0 {
		return result.Chapter, nil
	}
	next, err := p.store.NextChapterNumber(ctx, bookID)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "translate", "chapter number", "", err)
	}
	return next, nil
}

func errUnreviewedEntities(review *Review) error {
	return services.Wrap(services.ErrConflict, "reconcile", "review",
		fmt.Sprintf("%d new entit(ies) and %d conflict(s) await review", len(review.NewEntities), len(review.Conflicts)), nil)
}

func errUnresolvedConflict(conflict Conflict) error {
	return services.Wrap(services.ErrConflict, "reconcile", string(conflict.Category),
		fmt.Sprintf("%q: stored %q vs proposed %q", conflict.Key, conflict.Stored.Translation, conflict.Proposed), nil)
}

// wireEntitySet converts wire entities to the store's set shape for prompt
// context. The sentinel chapter tag carries no number yet, so LastChapter
// stays zero.
func wireEntitySet(entities map[string]map[string]providers.EntityFields) library.EntitySet {
	set := library.NewEntitySet()
	for _, categoryName := range providers.Categories {
		category := library.Category(categoryName)
		for key, fields := range entities[categoryName] {
			set[category][key] = library.EntityFields{
				Translation:          fields.Translation,
				Gender:               fields.Gender,
				IncorrectTranslation: fields.IncorrectTranslation,
			}
		}
	}
	return set
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
