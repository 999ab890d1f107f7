package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	OutputDir string `toml:"output_dir"`
}

// Translation contains model selection and prompt-context settings.
type Translation struct {
	// Model is the default "provider:model" spec used for chapter translation.
	Model string `toml:"model"`
	// AdviceModel is the "provider:model" spec used for alternative-translation advice.
	AdviceModel string `toml:"advice_model"`
	// ContextChapters bounds the entity context injected into prompts to
	// entities seen within the last N chapters. 0 means no window (all entities).
	ContextChapters int `toml:"context_chapters"`
	SourceLanguage  string `toml:"source_language"`
	TargetLanguage  string `toml:"target_language"`
}

// Provider describes one model backend.
type Provider struct {
	// Kind selects the adapter: "openai", "anthropic", or "gemini".
	Kind         string `toml:"kind"`
	BaseURL      string `toml:"base_url"`
	APIKeyEnv    string `toml:"api_key_env"`
	DefaultModel string `toml:"default_model"`
	// MaxChars is the chunk budget in characters for a single call.
	MaxChars       int `toml:"max_chars"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Workflow contains queue drain timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for weft.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and output directories
//   - Translation: default models and prompt-context window
//   - Providers: per-backend endpoint, credentials lookup, and chunk budget
//   - Workflow: queue drain polling and heartbeat settings
//   - Logging: log format and level
type Config struct {
	Paths       Paths               `toml:"paths"`
	Translation Translation         `toml:"translation"`
	Providers   map[string]Provider `toml:"providers"`
	Workflow    Workflow            `toml:"workflow"`
	Logging     Logging             `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/weft/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("weft.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories weft needs to run.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.OutputDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LibraryDBPath returns the path of the books/chapters/entities database.
func (c *Config) LibraryDBPath() string {
	return filepath.Join(c.Paths.DataDir, "library.db")
}

// QueueDBPath returns the path of the job queue database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the path of the single-instance lock guarding queue drains.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "weft.lock")
}

// ProviderFor resolves a "provider:model" spec against the configured provider
// table. A bare model name resolves against the default provider "openai".
func (c *Config) ProviderFor(spec string) (id string, provider Provider, model string, err error) {
	id, model = ParseModelSpec(spec)
	provider, ok := c.Providers[id]
	if !ok {
		return "", Provider{}, "", fmt.Errorf("unknown provider %q in model spec %q", id, spec)
	}
	if model == "" {
		model = provider.DefaultModel
	}
	if model == "" {
		return "", Provider{}, "", fmt.Errorf("no model given and provider %q has no default_model", id)
	}
	return id, provider, model, nil
}

// ParseModelSpec splits a "provider:model" string. A spec without a colon is
// treated as a model name on the default "openai" provider.
func ParseModelSpec(spec string) (provider, model string) {
	spec = strings.TrimSpace(spec)
	if idx := strings.Index(spec, ":"); idx >= 0 {
		return strings.ToLower(strings.TrimSpace(spec[:idx])), strings.TrimSpace(spec[idx+1:])
	}
	return "openai", spec
}

// APIKey resolves the API key for a provider from its configured environment variable.
func (p Provider) APIKey() string {
	if strings.TrimSpace(p.APIKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
