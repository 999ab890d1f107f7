package providers

import (
	"fmt"
	"log/slog"

	"weft/internal/config"
	"weft/internal/services"
)

// New builds the Translator for a configured provider. The id is the provider
// table key from configuration and appears in logs; cfg.Kind selects the
// adapter dialect.
func New(id string, cfg config.Provider, logger *slog.Logger) (Translator, error) {
	switch cfg.Kind {
	case "openai":
		return newOpenAIChat(id, cfg, logger), nil
	case "anthropic":
		return newAnthropicMessages(id, cfg, logger), nil
	case "gemini":
		return newGeminiGenerate(id, cfg, logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "translate", "provider",
			fmt.Sprintf("unknown provider kind %q for %q", cfg.Kind, id), nil)
	}
}

// ForSpec resolves a "provider:model" spec against configuration and returns
// the translator, resolved model name, and chunk budget for the call.
func ForSpec(cfg *config.Config, spec string, logger *slog.Logger) (Translator, string, int, error) {
	id, provider, model, err := cfg.ProviderFor(spec)
	if err != nil {
		return nil, "", 0, services.Wrap(services.ErrConfiguration, "translate", "provider", "", err)
	}
	translator, err := New(id, provider, logger)
	if err != nil {
		return nil, "", 0, err
	}
	return translator, model, provider.MaxChars, nil
}
