package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"weft/internal/library"
	"weft/internal/logging"
	"weft/internal/pipeline"
	"weft/internal/queue"
	"weft/internal/services"
)

// RunOnce processes a single pending job immediately, bypassing the poll
// loop. The returned job reflects its persisted post-run state.
func (m *Manager) RunOnce(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if job.Status != queue.StatusPending {
		return nil, fmt.Errorf("job %d is %s, not pending", id, job.Status)
	}
	logger := logging.NewComponentLogger(m.logger, "workflow")
	if err := m.processJob(ctx, logger, job); err != nil {
		return nil, err
	}
	return m.store.GetByID(ctx, job.ID)
}

func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	jobLogger := logger.With(
		logging.Int64("job_id", job.ID),
		logging.String("book", job.BookName),
	)

	job.Status = queue.StatusTranslating
	job.InitProgress("Translating", "starting translation")
	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		jobLogger.Error("failed to transition job to translating", logging.Error(err))
		return nil
	}
	if err := m.store.UpdateHeartbeat(ctx, job.ID); err != nil {
		jobLogger.Warn("initial heartbeat failed", logging.Error(err))
	}

	outcome, err := m.translateJob(ctx, jobLogger, job)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Left in translating; startup reset recovers it.
			jobLogger.Debug("translation interrupted by shutdown")
			return err
		}
		m.recordFailure(ctx, jobLogger, job, outcome, err)
		return nil
	}

	job.Status = queue.StatusCompleted
	job.LastHeartbeat = nil
	job.ResultJSON = ""
	job.ReviewReason = ""
	job.SetProgress("Completed", fmt.Sprintf("chapter %d committed", outcome.Chapter.Number), 100)
	if err := m.store.Update(ctx, job); err != nil {
		jobLogger.Error("failed to persist job completion", logging.Error(err))
		return nil
	}
	jobLogger.Info("job completed",
		logging.Int("chapter", outcome.Chapter.Number),
		logging.Int("chunks", outcome.Chunks),
		logging.Int("entity_updates", len(outcome.Deltas)),
		logging.Int("warnings", len(outcome.Warnings)),
	)
	return nil
}

func (m *Manager) translateJob(ctx context.Context, logger *slog.Logger, job *queue.Job) (*pipeline.Outcome, error) {
	book, err := m.books.CreateBook(ctx, library.Book{
		Title:          job.BookName,
		SourceLanguage: m.cfg.Translation.SourceLanguage,
		TargetLanguage: m.cfg.Translation.TargetLanguage,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve book %q: %w", job.BookName, err)
	}

	source, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "read source", job.SourcePath, err)
	}

	pJob := &pipeline.Job{
		BookID:        book.ID,
		ChapterNumber: job.ChapterHint,
		Title:         job.ChapterTitle,
		Source:        string(source),
		ModelSpec:     job.ModelSpec,
		RequestID:     uuid.NewString(),
		OnChunk: func(index, total int) {
			job.SetProgress("Translating", fmt.Sprintf("chunk %d of %d", index, total), float64(index-1)/float64(total)*100)
			if err := m.store.Update(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("failed to persist chunk progress", logging.Error(err))
			}
		},
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	outcome, err := m.pipeline.Run(ctx, pJob)
	hbCancel()
	hbWG.Wait()
	return outcome, err
}

func (m *Manager) recordFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, outcome *pipeline.Outcome, runErr error) {
	message := strings.TrimSpace(runErr.Error())

	switch services.FailureStatus(runErr) {
	case queue.StatusReview:
		job.SetReview(message)
		if outcome != nil && outcome.Result != nil {
			if data, err := json.Marshal(outcome.Result); err == nil {
				job.ResultJSON = string(data)
			} else {
				logger.Warn("failed to stash review result", logging.Error(err))
			}
		}
		logger.Warn("job parked for review", logging.String("reason", message))
	default:
		job.SetFailed(message)
		logger.Error("job failed", logging.Error(runErr))
	}

	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not persist job failure")
		} else {
			logger.Error("failed to persist job failure", logging.Error(err))
		}
	}
}
