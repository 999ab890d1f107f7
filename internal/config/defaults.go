package config

const (
	defaultDataDir   = "~/.local/share/weft"
	defaultLogDir    = "~/.local/share/weft/logs"
	defaultOutputDir = "~/weft-output"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultTranslationModel = "openai:gpt-4o"
	defaultAdviceModel      = "openai:gpt-4o-mini"
	defaultContextChapters  = 0
	defaultSourceLanguage   = "zh"
	defaultTargetLanguage   = "en"

	defaultMaxChars       = 5000
	defaultTimeoutSeconds = 300

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			OutputDir: defaultOutputDir,
		},
		Translation: Translation{
			Model:           defaultTranslationModel,
			AdviceModel:     defaultAdviceModel,
			ContextChapters: defaultContextChapters,
			SourceLanguage:  defaultSourceLanguage,
			TargetLanguage:  defaultTargetLanguage,
		},
		Providers: map[string]Provider{
			"openai": {
				Kind:           "openai",
				BaseURL:        "https://api.openai.com/v1/chat/completions",
				APIKeyEnv:      "OPENAI_API_KEY",
				DefaultModel:   "gpt-4o",
				MaxChars:       defaultMaxChars,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
			"deepseek": {
				Kind:           "openai",
				BaseURL:        "https://api.deepseek.com/chat/completions",
				APIKeyEnv:      "DEEPSEEK_API_KEY",
				DefaultModel:   "deepseek-chat",
				MaxChars:       defaultMaxChars,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
			"openrouter": {
				Kind:           "openai",
				BaseURL:        "https://openrouter.ai/api/v1/chat/completions",
				APIKeyEnv:      "OPENROUTER_API_KEY",
				DefaultModel:   "deepseek/deepseek-chat",
				MaxChars:       defaultMaxChars,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
			"anthropic": {
				Kind:           "anthropic",
				BaseURL:        "https://api.anthropic.com/v1/messages",
				APIKeyEnv:      "ANTHROPIC_API_KEY",
				DefaultModel:   "claude-sonnet-4-5",
				MaxChars:       8000,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
			"gemini": {
				Kind:           "gemini",
				BaseURL:        "https://generativelanguage.googleapis.com/v1beta/models",
				APIKeyEnv:      "GEMINI_API_KEY",
				DefaultModel:   "gemini-2.5-pro",
				MaxChars:       10000,
				TimeoutSeconds: defaultTimeoutSeconds,
			},
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
