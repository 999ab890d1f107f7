package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTranslation(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateTranslation() error {
	id, _ := ParseModelSpec(c.Translation.Model)
	if _, ok := c.Providers[id]; !ok {
		return fmt.Errorf("translation.model references unknown provider %q", id)
	}
	adviceID, _ := ParseModelSpec(c.Translation.AdviceModel)
	if _, ok := c.Providers[adviceID]; !ok {
		return fmt.Errorf("translation.advice_model references unknown provider %q", adviceID)
	}
	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}
	for id, p := range c.Providers {
		switch p.Kind {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("providers.%s.kind must be one of openai, anthropic, gemini (got %q)", id, p.Kind)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url must be set", id)
		}
		if p.APIKeyEnv == "" {
			return fmt.Errorf("providers.%s.api_key_env must be set", id)
		}
		if p.MaxChars < 100 {
			return fmt.Errorf("providers.%s.max_chars must be at least 100 (got %d)", id, p.MaxChars)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}
