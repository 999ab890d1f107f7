package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"weft/internal/logging"
	"weft/internal/pipeline"
	"weft/internal/queue"
	"weft/internal/services"
)

// ResolveReview finalizes a job parked in review. The stashed model output is
// reconciled against the entity store using the supplied resolver and the
// chapter is committed without repeating provider calls.
func (m *Manager) ResolveReview(ctx context.Context, id int64, resolver pipeline.Resolver) (*queue.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if job.Status != queue.StatusReview {
		return nil, fmt.Errorf("job %d is %s, not review", id, job.Status)
	}
	if strings.TrimSpace(job.ResultJSON) == "" {
		return nil, fmt.Errorf("job %d has no stashed result to resume from", id)
	}

	book, err := m.books.GetBookByTitle(ctx, job.BookName)
	if err != nil {
		return nil, fmt.Errorf("resolve book %q: %w", job.BookName, err)
	}
	source, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "resume", "read source", job.SourcePath, err)
	}

	pl := pipeline.New(m.cfg, m.books, resolver, m.logger)
	outcome, err := pl.Resume(ctx, &pipeline.Job{
		BookID:        book.ID,
		ChapterNumber: job.ChapterHint,
		Title:         job.ChapterTitle,
		Source:        string(source),
		ModelSpec:     job.ModelSpec,
	}, []byte(job.ResultJSON))
	if err != nil {
		// Still parked; an undecided conflict keeps the stash intact.
		return nil, err
	}

	job.Status = queue.StatusCompleted
	job.ResultJSON = ""
	job.ReviewReason = ""
	job.LastHeartbeat = nil
	job.SetProgress("Completed", fmt.Sprintf("chapter %d committed", outcome.Chapter.Number), 100)
	if err := m.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist resolved job: %w", err)
	}

	m.logger.Info("review resolved",
		logging.Int64("job_id", job.ID),
		logging.String("book", job.BookName),
		logging.Int("chapter", outcome.Chapter.Number),
	)
	return job, nil
}
