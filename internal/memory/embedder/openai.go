package embedder

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AetharaAI/lotus/internal/types"
)

// modelDimensions maps known OpenAI embedding models to their vector sizes.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder generates embeddings through the OpenAI embeddings API, or
// any OpenAI-compatible endpoint via BaseURL.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder. The API key falls
// back to the OPENAI_API_KEY environment variable when the config leaves it
// empty.
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED,
			"openai embedder requires api_key or OPENAI_API_KEY")
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims, ok := modelDimensions[model]
	if !ok {
		dims = cfg.Dimensions
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dims:   dims,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, types.WrapRetryableError(types.EMBEDDING_FAILED, "openai embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.NewError(types.EMBEDDING_FAILED, "openai returned a partial embedding batch")
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Health probes the API with a minimal embedding request.
func (e *OpenAIEmbedder) Health(ctx context.Context) types.HealthStatus {
	if _, err := e.Embed(ctx, "ping"); err != nil {
		return types.Unhealthyf("openai embedder unreachable: %v", err)
	}
	return types.Healthy("openai embedder ready")
}
