package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedderIsDeterministic(t *testing.T) {
	e := NewLocalEmbedder(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the service restarted at noon")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the service restarted at noon")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must embed identically")
	assert.Len(t, a, 384)

	c, err := e.Embed(ctx, "a completely different sentence")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLocalEmbedderProducesUnitVectors(t *testing.T) {
	e := NewLocalEmbedder(128)

	vec, err := e.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalEmbedderBatch(t *testing.T) {
	e := NewLocalEmbedder(64)
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestFactory(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "local-deterministic", e.Model())
	assert.Equal(t, 384, e.Dimensions())

	_, err = New(Config{Provider: "quantum"})
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "local defaults", cfg: Config{Provider: "local", Dimensions: 384}},
		{name: "local zero dims", cfg: Config{Provider: "local"}, wantErr: true},
		{name: "openai with model", cfg: Config{Provider: "openai", Model: "text-embedding-3-small"}},
		{name: "openai missing model", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "bert"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
