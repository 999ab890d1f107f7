package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/ingest"
	"weft/internal/library"
	"weft/internal/pipeline"
	"weft/internal/queue"
	"weft/internal/workflow"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the translation queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueAddDirCommand(ctx))
	queueCmd.AddCommand(newQueueAddEPUBCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueResolveCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				total := 0
				rows := make([][]string, 0, len(stats))
				for _, status := range queue.AllStatuses() {
					count := stats[status]
					total += count
					if count > 0 {
						rows = append(rows, []string{string(status), strconv.Itoa(count)})
					}
				}
				if total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows = append(rows, []string{"total", strconv.Itoa(total)})
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"}, rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				statuses := make([]queue.Status, 0, len(statusFilters))
				for _, raw := range statusFilters {
					status, ok := queue.ParseStatus(raw)
					if !ok {
						return fmt.Errorf("unknown status %q", raw)
					}
					statuses = append(statuses, status)
				}

				items, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, job := range items {
					detail := job.ProgressMessage
					if job.Status == queue.StatusFailed {
						detail = job.ErrorMessage
					}
					if job.Status == queue.StatusReview {
						detail = job.ReviewReason
					}
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						job.BookName,
						job.ChapterTitle,
						string(job.Status),
						truncate(detail, 48),
						job.UpdatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Book", "Chapter", "Status", "Detail", "Updated"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var bookName, modelSpec string

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue chapter files without translating them yet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				svc := ingest.NewService(cfg, store, ctx.ensureLogger())
				for _, path := range args {
					job, err := svc.AddFile(cmd.Context(), bookName, path, modelSpec)
					if err != nil {
						if errors.Is(err, ingest.ErrAlreadyQueued) {
							fmt.Fprintf(cmd.OutOrStdout(), "Skipped %s (already job %d)\n", path, job.ID)
							continue
						}
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d: %s\n", job.ID, path)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&bookName, "book", "b", "", "Book the chapters belong to")
	cmd.Flags().StringVarP(&modelSpec, "model", "m", "", "provider:model override")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func newQueueAddDirCommand(ctx *commandContext) *cobra.Command {
	var bookName, modelSpec, pattern, sortFlag string

	cmd := &cobra.Command{
		Use:   "add-dir <directory>",
		Short: "Queue every chapter file in a directory, in reading order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := ingest.ParseSortStrategy(sortFlag)
			if err != nil {
				return err
			}
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				svc := ingest.NewService(cfg, store, ctx.ensureLogger())
				jobs, err := svc.AddDirectory(cmd.Context(), bookName, args[0], pattern, strategy, modelSpec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d chapters from %s\n", len(jobs), args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&bookName, "book", "b", "", "Book the chapters belong to")
	cmd.Flags().StringVarP(&modelSpec, "model", "m", "", "provider:model override")
	cmd.Flags().StringVar(&pattern, "pattern", "*.txt", "File glob within the directory")
	cmd.Flags().StringVar(&sortFlag, "sort", "auto", "Ordering: auto, name, modified, or none")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func newQueueAddEPUBCommand(ctx *commandContext) *cobra.Command {
	var bookName, modelSpec string

	cmd := &cobra.Command{
		Use:   "add-epub <file.epub>",
		Short: "Extract an EPUB's chapters and queue them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				svc := ingest.NewService(cfg, store, ctx.ensureLogger())
				jobs, err := svc.AddEPUB(cmd.Context(), bookName, args[0], modelSpec)
				if err != nil {
					return err
				}
				name := bookName
				if name == "" && len(jobs) > 0 {
					name = jobs[0].BookName
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d chapters of %q\n", len(jobs), name)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&bookName, "book", "b", "", "Book name (defaults to the EPUB title)")
	cmd.Flags().StringVarP(&modelSpec, "model", "m", "", "provider:model override")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [id]...",
		Short: "Return failed jobs to pending",
		Long:  "Without arguments every failed job is retried.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d job(s)\n", count)
				return nil
			})
		},
	}
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				removed, err := store.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("job %d not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d\n", id)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completedOnly, failedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the queue",
		Long:  "Without flags every job is removed, including pending work.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(cfg *config.Config, store *queue.Store) error {
				var (
					count int64
					err   error
				)
				switch {
				case completedOnly:
					count, err = store.ClearCompleted(cmd.Context())
				case failedOnly:
					count, err = store.ClearFailed(cmd.Context())
				default:
					count, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d job(s)\n", count)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Only clear completed jobs")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only clear failed jobs")
	cmd.MarkFlagsMutuallyExclusive("completed", "failed")
	return cmd
}

func newQueueResolveCommand(ctx *commandContext) *cobra.Command {
	var acceptAll bool

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Decide a job parked for entity review and commit its chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return ctx.withStores(func(cfg *config.Config, jobs *queue.Store, books *library.Store) error {
				lock, err := ctx.acquireLock(cfg)
				if err != nil {
					return err
				}
				defer lock.Unlock()

				logger := ctx.ensureLogger()
				resolver := resolverFor(acceptAll, cmd.OutOrStdout(), pipeline.NewAdvisor(cfg, books, logger))
				if resolver == nil {
					return errors.New("resolve needs a terminal, or --yes to accept every proposal")
				}
				manager := workflow.NewManager(cfg, jobs, books, logger)
				job, err := manager.ResolveReview(cmd.Context(), id, resolver)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Committed: %s\n", job.ProgressMessage)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&acceptAll, "yes", "y", false, "Accept every proposed entity without prompting")
	return cmd
}

func parseJobIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid job id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
