package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"weft/internal/config"
	"weft/internal/library"
	"weft/internal/logging"
	"weft/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configFile string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configFile = resolvedPath
	})
	return c.config, c.configErr
}

// configPath reports where the effective configuration was loaded from. Valid
// only after ensureConfig succeeds.
func (c *commandContext) configPath() string {
	return c.configFile
}

func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

// withQueue opens the queue store for one command invocation.
func (c *commandContext) withQueue(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withLibrary opens the book library for one command invocation.
func (c *commandContext) withLibrary(fn func(*config.Config, *library.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := library.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withStores opens both stores. Commands that run the pipeline need both.
func (c *commandContext) withStores(fn func(*config.Config, *queue.Store, *library.Store) error) error {
	return c.withQueue(func(cfg *config.Config, jobs *queue.Store) error {
		books, err := library.Open(cfg)
		if err != nil {
			return err
		}
		defer books.Close()
		return fn(cfg, jobs, books)
	})
}

// acquireLock takes the single-instance lock guarding translation runs, so
// two drains never interleave chapters of the same book.
func (c *commandContext) acquireLock(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another weft instance is already translating (lock %s)", cfg.LockPath())
	}
	return lock, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
