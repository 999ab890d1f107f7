package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/ingest"
	"weft/internal/library"
	"weft/internal/pipeline"
	"weft/internal/queue"
	"weft/internal/workflow"
)

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var bookName string
	var modelSpec string
	var acceptAll bool

	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Translate one chapter file and commit it to the book",
		Long: `Translate queues the given source file as a chapter of --book and runs it
through the pipeline immediately. Entity conflicts are resolved interactively
on a terminal; pass --yes to accept the model's proposals, or run without a
terminal to park conflicts for "weft queue resolve".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, jobs *queue.Store, books *library.Store) error {
				lock, err := ctx.acquireLock(cfg)
				if err != nil {
					return err
				}
				defer lock.Unlock()

				logger := ctx.ensureLogger()
				out := cmd.OutOrStdout()

				resolver := resolverFor(acceptAll, out, pipeline.NewAdvisor(cfg, books, logger))
				pl := pipeline.New(cfg, books, resolver, logger)
				manager := workflow.NewManagerWithPipeline(cfg, jobs, books, pl, logger)

				svc := ingest.NewService(cfg, jobs, logger)
				job, err := svc.AddFile(cmd.Context(), bookName, args[0], modelSpec)
				if err != nil {
					if errors.Is(err, ingest.ErrAlreadyQueued) {
						return fmt.Errorf("%s is already queued as job %d; run `weft resume`", args[0], job.ID)
					}
					return err
				}

				done, err := manager.RunOnce(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				return reportJobOutcome(out, done)
			})
		},
	}

	cmd.Flags().StringVarP(&bookName, "book", "b", "", "Book the chapter belongs to (created on first use)")
	cmd.Flags().StringVarP(&modelSpec, "model", "m", "", "provider:model override for this chapter")
	cmd.Flags().BoolVarP(&acceptAll, "yes", "y", false, "Accept every proposed entity without prompting")
	_ = cmd.MarkFlagRequired("book")

	return cmd
}

func reportJobOutcome(out io.Writer, job *queue.Job) error {
	switch job.Status {
	case queue.StatusCompleted:
		fmt.Fprintf(out, "Committed: %s\n", job.ProgressMessage)
		return nil
	case queue.StatusReview:
		fmt.Fprintf(out, "Parked for review: %s\n", job.ReviewReason)
		fmt.Fprintf(out, "Decide with `weft queue resolve %d`.\n", job.ID)
		return nil
	case queue.StatusFailed:
		return fmt.Errorf("translation failed: %s", job.ErrorMessage)
	default:
		return fmt.Errorf("job %d finished in unexpected status %s", job.ID, job.Status)
	}
}
