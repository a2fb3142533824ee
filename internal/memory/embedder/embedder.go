package embedder

import (
	"context"
	"fmt"

	"github.com/AetharaAI/lotus/internal/types"
)

// Embedder generates embedding vectors from text content.
// Implementations must be thread-safe for concurrent access.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embedding vectors.
	Dimensions() int

	// Model returns the name of the embedding model being used.
	Model() string

	// Health returns the health status of the embedder.
	Health(ctx context.Context) types.HealthStatus
}

// Config holds configuration for embedding providers.
type Config struct {
	// Provider selects the embedder implementation: "local" or "openai".
	Provider string `mapstructure:"provider" yaml:"provider" json:"provider"`

	// Model is the specific embedding model to use.
	// For OpenAI: "text-embedding-3-small" (1536 dims) or "text-embedding-3-large" (3072 dims).
	// Ignored by the local provider.
	Model string `mapstructure:"model" yaml:"model" json:"model"`

	// Dimensions sets the vector size for the local provider.
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions" json:"dimensions"`

	// APIKey is the API key for the embedding provider.
	// Can also be provided via environment variable (OPENAI_API_KEY).
	APIKey string `mapstructure:"api_key" yaml:"api_key" json:"api_key"`

	// BaseURL overrides the embedding API endpoint, for OpenAI-compatible
	// servers.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "local"
	}
	if c.Model == "" && c.Provider == "openai" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimensions == 0 {
		c.Dimensions = 384
	}
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	switch c.Provider {
	case "local":
		if c.Dimensions <= 0 {
			return types.NewError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("embedder dimensions must be positive, got %d", c.Dimensions))
		}
	case "openai":
		if c.Model == "" {
			return types.NewError(types.CONFIG_VALIDATION_FAILED, "openai embedder requires a model")
		}
	default:
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			fmt.Sprintf("unknown embedder provider %q (must be local or openai)", c.Provider))
	}
	return nil
}
