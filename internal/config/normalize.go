package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranslation()
	c.normalizeProviders()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTranslation() {
	c.Translation.Model = strings.TrimSpace(c.Translation.Model)
	if c.Translation.Model == "" {
		c.Translation.Model = defaultTranslationModel
	}
	c.Translation.AdviceModel = strings.TrimSpace(c.Translation.AdviceModel)
	if c.Translation.AdviceModel == "" {
		c.Translation.AdviceModel = c.Translation.Model
	}
	c.Translation.SourceLanguage = strings.ToLower(strings.TrimSpace(c.Translation.SourceLanguage))
	if c.Translation.SourceLanguage == "" {
		c.Translation.SourceLanguage = defaultSourceLanguage
	}
	c.Translation.TargetLanguage = strings.ToLower(strings.TrimSpace(c.Translation.TargetLanguage))
	if c.Translation.TargetLanguage == "" {
		c.Translation.TargetLanguage = defaultTargetLanguage
	}
	if c.Translation.ContextChapters < 0 {
		c.Translation.ContextChapters = 0
	}
}

func (c *Config) normalizeProviders() {
	if c.Providers == nil {
		c.Providers = Default().Providers
		return
	}
	defaults := Default().Providers
	for id, fallback := range defaults {
		if _, ok := c.Providers[id]; !ok {
			c.Providers[id] = fallback
		}
	}
	for id, p := range c.Providers {
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Kind == "" {
			p.Kind = "openai"
		}
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		p.APIKeyEnv = strings.TrimSpace(p.APIKeyEnv)
		p.DefaultModel = strings.TrimSpace(p.DefaultModel)
		if p.MaxChars <= 0 {
			p.MaxChars = defaultMaxChars
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = defaultTimeoutSeconds
		}
		c.Providers[id] = p
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
