package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/AetharaAI/lotus/internal/types"
)

// LocalEmbedder generates deterministic embeddings without any external
// service: the text's SHA256 hash seeds a PRNG that fills the vector, and
// the vector is normalized to unit length. Identical text always produces
// the identical embedding, so similarity search stays stable across
// restarts. It has no notion of meaning; it is the offline default and the
// test embedder, with the OpenAI provider as the semantic upgrade.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder creates a local deterministic embedder.
func NewLocalEmbedder(dimensions int) *LocalEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &LocalEmbedder{dimensions: dimensions}
}

// Embed generates a deterministic unit vector for the text.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(hash[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float32, e.dimensions)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *LocalEmbedder) Dimensions() int { return e.dimensions }

// Model returns the embedder's model name.
func (e *LocalEmbedder) Model() string { return "local-deterministic" }

// Health reports the embedder as always healthy; it has no dependencies.
func (e *LocalEmbedder) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("local embedder ready")
}
