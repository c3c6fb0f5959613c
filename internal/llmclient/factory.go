package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
)

// NewClient creates the tier router from the agent configuration. Both tiers must
// resolve to a supported provider.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LLM.DefaultFastModel == "" || cfg.LLM.DefaultPowerfulModel == "" {
		return nil, fmt.Errorf("both default_fast_model and default_powerful_model must be configured")
	}

	fast, err := newModelClient(ctx, cfg.LLM.ModelConfig(cfg.LLM.DefaultFastModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fast tier client: %w", err)
	}
	powerful, err := newModelClient(ctx, cfg.LLM.ModelConfig(cfg.LLM.DefaultPowerfulModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize powerful tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}

func newModelClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
