package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"weft/internal/pipeline"
	"weft/internal/providers"
)

// entityAdviser fetches alternative translations for one entity. Satisfied by
// pipeline.Advisor; stubbed in tests.
type entityAdviser interface {
	Advise(ctx context.Context, query *pipeline.AdviceQuery) (*providers.Advice, error)
}

// promptResolver walks the user through a review on the terminal. Every new
// entity can be accepted, renamed, or skipped; every conflict must be decided
// before the chapter commits. When an adviser is attached, "?" asks the
// advice model for alternatives.
type promptResolver struct {
	in      *bufio.Reader
	out     io.Writer
	adviser entityAdviser
}

func newPromptResolver(in io.Reader, out io.Writer, adviser entityAdviser) *promptResolver {
	return &promptResolver{in: bufio.NewReader(in), out: out, adviser: adviser}
}

// resolverFor picks the resolver for a command run. --yes accepts every
// proposal; a non-interactive stdin defers conflicts to `queue resolve`.
func resolverFor(acceptAll bool, out io.Writer, adviser entityAdviser) pipeline.Resolver {
	if acceptAll {
		return pipeline.AcceptAll{}
	}
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return newPromptResolver(os.Stdin, out, adviser)
	}
	return nil
}

func (r *promptResolver) Resolve(ctx context.Context, review *pipeline.Review) (*pipeline.Resolution, error) {
	fmt.Fprintf(r.out, "\nEntity review for %q, chapter %d\n", review.BookTitle, review.ChapterNumber)
	for _, warning := range review.Warnings {
		fmt.Fprintf(r.out, "  warning: %s\n", warning)
	}

	resolution := &pipeline.Resolution{
		NewEntities: make(map[pipeline.EntityRef]pipeline.NewEntityDecision),
		Conflicts:   make(map[pipeline.EntityRef]pipeline.ConflictDecision),
	}

	for _, entity := range review.NewEntities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(r.out, "\nNew %s: %s -> %s", entity.Category, entity.Key, entity.Translation)
		if entity.Gender != "" {
			fmt.Fprintf(r.out, " (%s)", entity.Gender)
		}
		fmt.Fprintf(r.out, ", %d occurrence(s)\n", entity.Occurrences)

		ref := pipeline.EntityRef{Category: entity.Category, Key: entity.Key}
		switch r.ask(r.choicePrompt("[a]ccept / [r]ename / [s]kip")) {
		case "r", "rename":
			translation := r.chooseTranslation(ctx, review, pipeline.AdviceQuery{
				BookID:      review.BookID,
				Category:    entity.Category,
				Key:         entity.Key,
				Translation: entity.Translation,
				Gender:      entity.Gender,
				SourceText:  review.SourceText,
			})
			resolution.NewEntities[ref] = pipeline.NewEntityDecision{Translation: translation}
		case "s", "skip":
			resolution.NewEntities[ref] = pipeline.NewEntityDecision{Skip: true}
		default:
			resolution.NewEntities[ref] = pipeline.NewEntityDecision{}
		}
	}

	for _, conflict := range review.Conflicts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(r.out, "\nConflict in %s: %s\n", conflict.Category, conflict.Key)
		fmt.Fprintf(r.out, "  stored:   %s (last seen chapter %d)\n", conflict.Stored.Translation, conflict.Stored.LastChapter)
		fmt.Fprintf(r.out, "  proposed: %s\n", conflict.Proposed)

		ref := pipeline.EntityRef{Category: conflict.Category, Key: conflict.Key}
		switch r.ask(r.choicePrompt("[k]eep stored / [a]ccept proposed / [c]ustom")) {
		case "a", "accept":
			resolution.Conflicts[ref] = pipeline.ConflictDecision{}
		case "c", "custom":
			translation := r.chooseTranslation(ctx, review, pipeline.AdviceQuery{
				BookID:      review.BookID,
				Category:    conflict.Category,
				Key:         conflict.Key,
				Translation: conflict.Stored.Translation,
				SourceText:  review.SourceText,
			})
			resolution.Conflicts[ref] = pipeline.ConflictDecision{Translation: translation}
		default:
			resolution.Conflicts[ref] = pipeline.ConflictDecision{KeepStored: true}
		}
	}

	return resolution, nil
}

// choicePrompt appends the advice hint when an adviser is attached. The first
// choice letter is the default.
func (r *promptResolver) choicePrompt(choices string) string {
	first := strings.TrimLeft(choices, "[")[:1]
	if r.adviser != nil {
		return fmt.Sprintf("%s / [?]advice (default %s): ", choices, first)
	}
	return fmt.Sprintf("%s (default %s): ", choices, first)
}

// chooseTranslation reads a replacement translation. "?" fetches alternatives
// from the advice model and lets the user pick one by number or keep typing.
func (r *promptResolver) chooseTranslation(ctx context.Context, review *pipeline.Review, query pipeline.AdviceQuery) string {
	var options []string
	for {
		answer := r.askNonEmpty(fmt.Sprintf("translation for %s (? for advice): ", query.Key))
		if answer == "?" {
			options = r.fetchAdvice(ctx, query)
			continue
		}
		if index, ok := optionIndex(answer, len(options)); ok {
			return options[index]
		}
		return answer
	}
}

// fetchAdvice prints the advice model's message and numbered options and
// returns the options for selection. Failures are reported and leave the
// manual path untouched.
func (r *promptResolver) fetchAdvice(ctx context.Context, query pipeline.AdviceQuery) []string {
	if r.adviser == nil {
		fmt.Fprintln(r.out, "  no advice model available")
		return nil
	}
	advice, err := r.adviser.Advise(ctx, &query)
	if err != nil {
		fmt.Fprintf(r.out, "  advice request failed: %v\n", err)
		return nil
	}
	if advice.Message != "" {
		fmt.Fprintf(r.out, "\n%s\n\n", advice.Message)
	}
	for i, option := range advice.Options {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, option)
	}
	fmt.Fprintln(r.out, "Pick an option by number, or type a translation.")
	return advice.Options
}

// optionIndex interprets answer as a 1-based option number.
func optionIndex(answer string, count int) (int, bool) {
	if count == 0 || len(answer) == 0 {
		return 0, false
	}
	index := 0
	for _, r := range answer {
		if r < '0' || r > '9' {
			return 0, false
		}
		index = index*10 + int(r-'0')
	}
	if index < 1 || index > count {
		return 0, false
	}
	return index - 1, true
}

func (r *promptResolver) ask(prompt string) string {
	fmt.Fprint(r.out, prompt)
	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(line))
}

func (r *promptResolver) askNonEmpty(prompt string) string {
	for {
		fmt.Fprint(r.out, prompt)
		line, err := r.in.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
		if err != nil {
			return ""
		}
	}
}
