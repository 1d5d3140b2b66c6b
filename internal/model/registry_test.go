// Tests for model registry

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/config"
	"mmrag/pkg/secrets"
)

func testModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Embedding: config.EmbeddingConfig{Providers: map[string]config.ProviderConfig{
			"hashing": {Type: "hashing", Models: map[string]config.ModelInfo{
				"h64": {Name: "hashing-64", Dimension: 64},
			}},
			"remote": {Type: "openai", APIKey: "secret://remote_key", BaseURL: "http://127.0.0.1:1/v1",
				Models: map[string]config.ModelInfo{"small": {Name: "text-embedding-3-small", Dimension: 8}}},
		}},
		Defaults: config.DefaultsConfig{Text: "hashing.h64", Joint: "hashing.h64"},
	}
}

func TestRegistry_DefaultsShareProvider(t *testing.T) {
	r := NewRegistry(testModelConfig(), nil)
	ctx := context.Background()

	assert.Same(t, r.DefaultText(), r.Text("hashing.h64"))

	joint, err := r.DefaultJoint().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, joint.Dimension())

	text, err := r.DefaultText().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hashing-64", text.Model())
}

func TestRegistry_UnknownModel(t *testing.T) {
	r := NewRegistry(testModelConfig(), nil)
	_, err := r.Text("hashing.nope").Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "not registered")

	_, err = r.Text("bad-key").Get(context.Background())
	require.Error(t, err)
}

func TestRegistry_ResolvesSecretAPIKey(t *testing.T) {
	store := secrets.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "remote_key", "sk-abc"))
	r := NewRegistry(testModelConfig(), store)

	spec, err := r.Spec(context.Background(), "remote.small")
	require.NoError(t, err)
	assert.Equal(t, "sk-abc", spec.APIKey)
	assert.Equal(t, "openai", spec.Type)
	assert.Equal(t, 8, spec.Dimension)

	_, err = NewRegistry(testModelConfig(), nil).Spec(context.Background(), "remote.small")
	require.Error(t, err)
}
