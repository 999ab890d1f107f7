package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/pipeline"
)

func newEntityCommand(ctx *commandContext) *cobra.Command {
	entityCmd := &cobra.Command{
		Use:   "entity",
		Short: "Inspect and correct a book's entity glossary",
	}

	entityCmd.AddCommand(newEntityListCommand(ctx))
	entityCmd.AddCommand(newEntityExportCommand(ctx))
	entityCmd.AddCommand(newEntityImportCommand(ctx))
	entityCmd.AddCommand(newEntityDupesCommand(ctx))
	entityCmd.AddCommand(newEntityFixDupesCommand(ctx))
	entityCmd.AddCommand(newEntitySetCommand(ctx))
	entityCmd.AddCommand(newEntityAdviseCommand(ctx))
	entityCmd.AddCommand(newEntityDeleteCommand(ctx))

	return entityCmd
}

func newEntityListCommand(ctx *commandContext) *cobra.Command {
	var categoryFlag string

	cmd := &cobra.Command{
		Use:   "list <book>",
		Short: "List tracked entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := parseCategory(categoryFlag)
			if err != nil {
				return err
			}
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				entities, err := store.ListEntities(cmd.Context(), book.ID, category)
				if err != nil {
					return err
				}
				if len(entities) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No entities tracked")
					return nil
				}
				rows := make([][]string, 0, len(entities))
				for _, entity := range entities {
					rows = append(rows, []string{
						string(entity.Category),
						entity.Key,
						entity.Translation,
						entity.Gender,
						strconv.Itoa(entity.Count),
						strconv.Itoa(entity.LastChapter),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Category", "Key", "Translation", "Gender", "Count", "Last Ch."}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&categoryFlag, "category", "", "Limit to one category")
	return cmd
}

func newEntityExportCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <book>",
		Short: "Export the glossary as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				data, err := store.ExportEntities(cmd.Context(), book.ID)
				if err != nil {
					return err
				}
				if outPath == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %q to %s\n", book.Title, outPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newEntityImportCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <book> <file.json>",
		Short: "Import a glossary export",
		Long:  "Existing entities win unless --force replaces their translations.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				data, err := os.ReadFile(args[1])
				if err != nil {
					return fmt.Errorf("read import: %w", err)
				}
				count, err := store.ImportEntities(cmd.Context(), book.ID, data, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entit(ies) into %q\n", count, book.Title)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing translations")
	return cmd
}

func newEntityDupesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dupes <book>",
		Short: "Report duplicate keys and shared translations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				groups, err := store.FindDuplicates(cmd.Context(), book.ID)
				if err != nil {
					return err
				}
				if len(groups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No duplicates found")
					return nil
				}
				rows := make([][]string, 0, len(groups))
				for _, group := range groups {
					for _, entity := range group.Entities {
						rows = append(rows, []string{
							string(group.Kind),
							group.Value,
							string(entity.Category),
							entity.Key,
							entity.Translation,
							strconv.Itoa(entity.Count),
						})
					}
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Kind", "Value", "Category", "Key", "Translation", "Count"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				fmt.Fprintln(cmd.OutOrStdout(), "Run `weft entity fix-dupes` to keep the most used entry of each group")
				return nil
			})
		},
	}
}

func newEntityFixDupesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-dupes <book>",
		Short: "Collapse duplicate groups, keeping the most used entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				removed, err := store.FixDuplicates(cmd.Context(), book.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate entit(ies)\n", removed)
				return nil
			})
		},
	}
}

func newEntitySetCommand(ctx *commandContext) *cobra.Command {
	var gender string

	cmd := &cobra.Command{
		Use:   "set <book> <category> <key> <translation>",
		Short: "Add an entity or correct its translation",
		Long: `Correcting an existing entity records the superseded translation so
earlier chapters can be revised.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := parseCategory(args[1])
			if err != nil {
				return err
			}
			if category == "" {
				return errors.New("category is required")
			}
			key, translation := args[2], args[3]
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}

				existing, err := store.LookupEntity(cmd.Context(), book.ID, category, key)
				switch {
				case err == nil:
					if existing.Translation != translation {
						existing.IncorrectTranslation = existing.Translation
						existing.Translation = translation
					}
					if gender != "" {
						existing.Gender = gender
					}
					if err := store.UpdateEntity(cmd.Context(), existing); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Updated %s/%s -> %s\n", category, key, translation)
				case errors.Is(err, library.ErrNotFound):
					if _, err := store.AddEntity(cmd.Context(), library.Entity{
						BookID:      book.ID,
						Category:    category,
						Key:         key,
						Translation: translation,
						Gender:      gender,
					}); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Added %s/%s -> %s\n", category, key, translation)
				default:
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&gender, "gender", "", "Character gender: male, female, or neither")
	return cmd
}

func newEntityAdviseCommand(ctx *commandContext) *cobra.Command {
	var chapter int

	cmd := &cobra.Command{
		Use:   "advise <book> <key>",
		Short: "Ask the advice model for alternative translations of an entity",
		Long: `Advise sends the entity and its stored translation to the configured
advice model (translation.advice_model, falling back to the default model) and
prints the model's note plus alternative renderings. Pass --chapter to include
excerpts of that chapter's source text as context.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				key := args[1]
				entity, category, err := findEntityAnyCategory(cmd.Context(), store, book.ID, key)
				if err != nil {
					return err
				}

				query := pipeline.AdviceQuery{
					BookID:      book.ID,
					Category:    category,
					Key:         key,
					Translation: entity.Translation,
					Gender:      entity.Gender,
				}
				if chapter > 0 {
					stored, err := store.GetChapter(cmd.Context(), book.ID, chapter)
					if err != nil {
						return err
					}
					query.SourceText = strings.Join(stored.SourceContent, "\n")
				}

				advisor := pipeline.NewAdvisor(cfg, store, ctx.ensureLogger())
				advice, err := advisor.Advise(cmd.Context(), &query)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s/%s, currently %q\n", category, key, entity.Translation)
				if advice.Message != "" {
					fmt.Fprintf(out, "\n%s\n", advice.Message)
				}
				fmt.Fprintln(out)
				for i, option := range advice.Options {
					fmt.Fprintf(out, "  [%d] %s\n", i+1, option)
				}
				fmt.Fprintf(out, "\nApply one with: weft entity set %q %s %q <translation>\n", book.Title, category, key)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&chapter, "chapter", 0, "Chapter whose source text is excerpted as context")
	return cmd
}

// findEntityAnyCategory looks the key up across all categories; the glossary
// keeps keys unique per book, so at most one category matches.
func findEntityAnyCategory(ctx context.Context, store *library.Store, bookID int64, key string) (*library.Entity, library.Category, error) {
	for _, category := range library.Categories() {
		entity, err := store.LookupEntity(ctx, bookID, category, key)
		if err == nil {
			return entity, category, nil
		}
		if !errors.Is(err, library.ErrNotFound) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no entity %q in the glossary", key)
}

func newEntityDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book> <category> <key>",
		Short: "Remove an entity from the glossary",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := parseCategory(args[1])
			if err != nil {
				return err
			}
			if category == "" {
				return errors.New("category is required")
			}
			return ctx.withLibrary(func(cfg *config.Config, store *library.Store) error {
				book, err := resolveBook(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if err := store.DeleteEntity(cmd.Context(), book.ID, category, args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", category, args[2])
				return nil
			})
		},
	}
}

func parseCategory(value string) (library.Category, error) {
	if value == "" {
		return "", nil
	}
	if !library.ValidCategory(value) {
		return "", fmt.Errorf("unknown category %q (known: %v)", value, library.Categories())
	}
	return library.Category(value), nil
}
