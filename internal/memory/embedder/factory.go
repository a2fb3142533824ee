package embedder

import (
	"fmt"

	"github.com/AetharaAI/lotus/internal/types"
)

// New creates an Embedder from configuration.
func New(cfg Config) (Embedder, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "local":
		return NewLocalEmbedder(cfg.Dimensions), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("unknown embedder provider %q", cfg.Provider))
	}
}
