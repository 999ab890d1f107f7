package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/library"
)

func newBookCommand(ctx *commandContext) *cobra.Command {
	bookCmd := &cobra.Command{
		Use:   "book",
		Short: "Manage translated books",
	}

	bookCmd.AddCommand(newBookListCommand(ctx))
	bookCmd.AddCommand(newBookCreateCommand(ctx))
	bookCmd.AddCommand(newBookShowCommand(ctx))
	bookCmd.AddCommand(newBookExportCommand(ctx))
	bookCmd.AddCommand(newBookSetPromptCommand(ctx))
	bookCmd.AddCommand(newBookDeleteCommand(ctx))

	return bookCmd
}

func newBookListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List books in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				books, err := store.ListBooks(cmd.Context())
				if err != nil {
					return err
				}
				if len(books) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No books yet")
					return nil
				}
				rows := make([][]string, 0, len(books))
				for _, book := range books {
					rows = append(rows, []string{
						strconv.FormatInt(book.ID, 10),
						book.Title,
						book.Author,
						fmt.Sprintf("%s -> %s", book.SourceLanguage, book.TargetLanguage),
						strconv.Itoa(book.ChapterCount),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Author", "Languages", "Chapters"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newBookCreateCommand(ctx *commandContext) *cobra.Command {
	var author, description, sourceLang, targetLang string

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				if sourceLang == "" {
					sourceLang = cfg.Translation.SourceLanguage
				}
				if targetLang == "" {
					targetLang = cfg.Translation.TargetLanguage
				}
				book, err := store.CreateBook(cmd.Context(), library.Book{
					Title:          args[0],
					Author:         author,
					Description:    description,
					SourceLanguage: sourceLang,
					TargetLanguage: targetLang,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d: %s (%s -> %s)\n",
					book.ID, book.Title, book.SourceLanguage, book.TargetLanguage)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&author, "author", "", "Author name")
	cmd.Flags().StringVar(&description, "description", "", "Short description")
	cmd.Flags().StringVar(&sourceLang, "source-lang", "", "Source language code (default from config)")
	cmd.Flags().StringVar(&targetLang, "target-lang", "", "Target language code (default from config)")
	return cmd
}

func newBookShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <book>",
		Short: "Show a book's metadata and chapter list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Book %d: %s\n", book.ID, book.Title)
				if book.Author != "" {
					fmt.Fprintf(out, "Author: %s\n", book.Author)
				}
				if book.Description != "" {
					fmt.Fprintf(out, "Description: %s\n", book.Description)
				}
				fmt.Fprintf(out, "Languages: %s -> %s\n", book.SourceLanguage, book.TargetLanguage)
				if book.PromptTemplate != "" {
					fmt.Fprintln(out, "Prompt template: custom")
				}

				chapters, err := store.ListChapters(cmd.Context(), book.ID)
				if err != nil {
					return err
				}
				if len(chapters) == 0 {
					fmt.Fprintln(out, "No chapters translated yet")
					return nil
				}
				rows := make([][]string, 0, len(chapters))
				for _, chapter := range chapters {
					rows = append(rows, []string{
						strconv.Itoa(chapter.Number),
						chapter.Title,
						chapter.Model,
						chapter.TranslatedAt.Local().Format(time.DateOnly),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Chapter", "Title", "Model", "Translated"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newBookExportCommand(ctx *commandContext) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export <book>",
		Short: "Write translated chapters as plain text files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				chapters, err := store.ListChapters(cmd.Context(), book.ID)
				if err != nil {
					return err
				}
				if len(chapters) == 0 {
					return fmt.Errorf("%q has no translated chapters", book.Title)
				}

				target := dir
				if target == "" {
					target = filepath.Join(cfg.Paths.OutputDir, slugifyTitle(book.Title))
				}
				if err := os.MkdirAll(target, 0o755); err != nil {
					return fmt.Errorf("create export directory: %w", err)
				}

				for _, chapter := range chapters {
					path := filepath.Join(target, fmt.Sprintf("chapter_%04d.txt", chapter.Number))
					if err := os.WriteFile(path, []byte(renderChapterText(chapter)), 0o644); err != nil {
						return fmt.Errorf("write chapter %d: %w", chapter.Number, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d chapter(s) to %s\n", len(chapters), target)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Destination directory (default under the output path)")
	return cmd
}

// renderChapterText joins translated blocks into readable plain text. Blank
// blocks are paragraph breaks.
func renderChapterText(chapter *library.Chapter) string {
	var b strings.Builder
	if chapter.Title != "" {
		b.WriteString(chapter.Title)
		b.WriteString("\n\n")
	}
	previousBlank := false
	for _, block := range chapter.Content {
		if block == "" {
			previousBlank = true
			continue
		}
		if b.Len() > 0 && previousBlank {
			b.WriteString("\n")
		}
		b.WriteString(block)
		b.WriteString("\n")
		previousBlank = false
	}
	return b.String()
}

var slugTitleStrip = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

func slugifyTitle(title string) string {
	slug := slugTitleStrip.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "book"
	}
	return slug
}

func newBookSetPromptCommand(ctx *commandContext) *cobra.Command {
	var templateFile string
	var clear bool

	cmd := &cobra.Command{
		Use:   "set-prompt <book>",
		Short: "Override the system prompt for one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clear && templateFile == "" {
				return errors.New("pass --file or --clear")
			}
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				template := ""
				if !clear {
					data, err := os.ReadFile(templateFile)
					if err != nil {
						return fmt.Errorf("read template: %w", err)
					}
					template = string(data)
				}
				if err := store.SetPromptTemplate(cmd.Context(), book.ID, template); err != nil {
					return err
				}
				if clear {
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared prompt template for %q\n", book.Title)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Set prompt template for %q from %s\n", book.Title, templateFile)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&templateFile, "file", "", "File holding the template text")
	cmd.Flags().BoolVar(&clear, "clear", false, "Revert to the default prompt")
	cmd.MarkFlagsMutuallyExclusive("file", "clear")
	return cmd
}

func newBookDeleteCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <book>",
		Short: "Delete a book with all its chapters and entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if !force {
					return fmt.Errorf("deleting %q removes %d chapter(s); re-run with --force", book.Title, book.ChapterCount)
				}
				if err := store.DeleteBook(cmd.Context(), book.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", book.Title)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation guard")
	return cmd
}

// resolveBook accepts either a numeric id or an exact title.
func resolveBook(ctx context.Context, store *library.Store, identifier string) (*library.Book, error) {
	identifier = strings.TrimSpace(identifier)
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		book, err := store.GetBook(ctx, id)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, library.ErrNotFound) {
			return nil, err
		}
	}
	book, err := store.GetBookByTitle(ctx, identifier)
	if errors.Is(err, library.ErrNotFound) {
		return nil, fmt.Errorf("no book matching %q", identifier)
	}
	return book, err
}
