package vision

import (
	"context"
	"fmt"

	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// Client bundles the configured provider with its model fallback order.
type Client struct {
	Describer
	Provider string
	Models   []string
	closer   func() error
}

// Close releases provider resources.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// NewClient builds the provider selected by cfg.Provider. One client is
// created per process and shared by all workers.
func NewClient(ctx context.Context, cfg config.AIConfig, log logger.Logger) (*Client, error) {
	log.Info("Creating vision client",
		logger.String("provider", cfg.Provider),
	)

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("no valid OpenAI API key found (OPENAI_API_KEY)")
		}
		return &Client{
			Describer: NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Timeout),
			Provider:  config.ProviderOpenAI,
			Models:    cfg.OpenAIModels,
		}, nil

	case config.ProviderGemini:
		g, err := NewGeminiClient(ctx, cfg.GeminiKey)
		if err != nil {
			return nil, err
		}
		return &Client{Describer: g, Provider: cfg.Provider, Models: cfg.GeminiModels, closer: g.Close}, nil

	case config.ProviderOllama:
		o := NewOllamaClient(cfg.OllamaEndpoint, cfg.Timeout)
		return &Client{Describer: o, Provider: cfg.Provider, Models: cfg.OllamaModels, closer: o.Close}, nil
	}

	log.Error("Unsupported vision provider", logger.String("provider", cfg.Provider))
	return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Provider)
}
