package testsupport

import (
	"path/filepath"
	"testing"

	"weft/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Workflow intervals are shortened so drain tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Translation.Model = "openai:test-model"
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1

	builder := &configBuilder{t: t, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithModel sets the default translation model spec on the test config.
func WithModel(spec string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Translation.Model = spec
	}
}

// WithContextChapters bounds the entity relevance window on the test config.
func WithContextChapters(window int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Translation.ContextChapters = window
	}
}
