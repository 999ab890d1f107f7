package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/logging"
	"weft/internal/pipeline"
	"weft/internal/queue"
)

// Manager drains the translation queue sequentially.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	books    *library.Store
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	pollInterval time.Duration
	heartbeat    *HeartbeatMonitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a workflow manager with a non-interactive pipeline,
// so entity conflicts park jobs in review.
func NewManager(cfg *config.Config, store *queue.Store, books *library.Store, logger *slog.Logger) *Manager {
	return NewManagerWithPipeline(cfg, store, books, pipeline.New(cfg, books, nil, logger), logger)
}

// NewManagerWithPipeline constructs a workflow manager around a caller-built
// pipeline. Used when the caller supplies a conflict resolver or a stubbed
// translation backend.
func NewManagerWithPipeline(cfg *config.Config, store *queue.Store, books *library.Store, pl *pipeline.Pipeline, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		books:        books,
		pipeline:     pl,
		logger:       logger,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
	}
}
