// Package factory builds the configured model provider with its retry
// wrapper applied.
package factory

import (
	"log/slog"

	"github.com/cexll/agentd/pkg/config"
	"github.com/cexll/agentd/pkg/model"
	"github.com/cexll/agentd/pkg/model/anthropic"
	"github.com/cexll/agentd/pkg/model/openai"
)

// New selects a provider from config (OpenAI, then OpenRouter, then
// Anthropic) and wraps it in a Reliable retry layer. At least one provider
// block with an API key must be present.
func New(cfg *config.AppConfig, logger *slog.Logger) (model.Provider, error) {
	inner, err := selectProvider(cfg)
	if err != nil {
		return nil, err
	}
	return model.NewReliable(inner, cfg.Retry.MaxRetries, cfg.Retry.BaseBackoff.Std(), logger), nil
}

func selectProvider(cfg *config.AppConfig) (model.Provider, error) {
	p := cfg.Providers
	switch {
	case configured(p.OpenAI):
		return openai.New(p.OpenAI.APIKey, p.OpenAI.APIBase, "openai"), nil
	case configured(p.OpenRouter):
		base := p.OpenRouter.APIBase
		if base == "" {
			base = openai.OpenRouterBaseURL
		}
		return openai.New(p.OpenRouter.APIKey, base, "openrouter"), nil
	case configured(p.Anthropic):
		return anthropic.New(p.Anthropic.APIKey, p.Anthropic.APIBase), nil
	default:
		return nil, &model.ConfigError{Message: "no provider configured: set openai, openrouter or anthropic credentials"}
	}
}

func configured(c *config.ProviderCredentials) bool {
	return c != nil && c.APIKey != ""
}
