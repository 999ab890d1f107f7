package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/queue"
	"weft/internal/workflow"
)

func newResumeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Drain the translation queue",
		Long: `Resume processes every pending job in order and exits when the queue is
drained. Entity conflicts park their job in review without stopping the
drain; decide them afterwards with "weft queue resolve". Interrupting the
drain is safe: committed chapters stay committed and the interrupted job
returns to pending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, jobs *queue.Store, books *library.Store) error {
				lock, err := ctx.acquireLock(cfg)
				if err != nil {
					return err
				}
				defer lock.Unlock()

				out := cmd.OutOrStdout()
				stats, err := jobs.Stats(cmd.Context())
				if err != nil {
					return err
				}
				total := stats[queue.StatusPending] + stats[queue.StatusTranslating]
				if total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				manager := workflow.NewManager(cfg, jobs, books, ctx.ensureLogger())
				if err := manager.Start(runCtx); err != nil {
					return err
				}
				defer manager.Stop()

				bar := newDrainBar(total)
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()

				for {
					select {
					case <-runCtx.Done():
						fmt.Fprintln(out, "\nInterrupted; run `weft resume` to continue")
						return nil
					case <-ticker.C:
					}
					stats, err = jobs.Stats(runCtx)
					if err != nil {
						continue
					}
					remaining := stats[queue.StatusPending] + stats[queue.StatusTranslating]
					if bar != nil {
						_ = bar.Set(total - remaining)
					}
					if remaining == 0 {
						break
					}
				}
				if bar != nil {
					_ = bar.Finish()
					fmt.Fprintln(out)
				}

				fmt.Fprintf(out, "Done: %d completed, %d failed, %d awaiting review\n",
					stats[queue.StatusCompleted], stats[queue.StatusFailed], stats[queue.StatusReview])
				if stats[queue.StatusReview] > 0 {
					fmt.Fprintln(out, "Decide parked jobs with `weft queue resolve <id>`.")
				}
				return nil
			})
		},
	}
	return cmd
}

// newDrainBar returns a progress bar on a terminal, nil otherwise.
func newDrainBar(total int) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("translating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
