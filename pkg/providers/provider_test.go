package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/memory"
	anthropicprovider "github.com/grinbot/grinbot/pkg/providers/anthropic"
	"github.com/grinbot/grinbot/pkg/providers/openai_sdk"
)

func TestCreateProvider(t *testing.T) {
	tests := []struct {
		provider string
		check    func(t *testing.T, c Completer)
	}{
		{"", func(t *testing.T, c Completer) { assert.IsType(t, NotConfigured{}, c) }},
		{"none", func(t *testing.T, c Completer) { assert.IsType(t, NotConfigured{}, c) }},
		{"OpenAI", func(t *testing.T, c Completer) { assert.IsType(t, &openai_sdk.Provider{}, c) }},
		{"anthropic", func(t *testing.T, c Completer) { assert.IsType(t, &anthropicprovider.Provider{}, c) }},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			tt.check(t, CreateProvider(config.LLMConfig{Provider: tt.provider, APIKey: "k", Model: "m"}))
		})
	}
}

func TestNotConfigured_ReplyIsFinalAnswer(t *testing.T) {
	out, err := NotConfigured{}.Complete(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "Final Answer:")
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, p string) (string, error) { return "echo " + p, nil })
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "echo x", out)
}

func TestCreateEmbedder(t *testing.T) {
	assert.Nil(t, CreateEmbedder(config.LLMConfig{Provider: "anthropic", APIKey: "k"}, config.MemoryConfig{}))

	e := CreateEmbedder(config.LLMConfig{Provider: "openai", APIKey: "k"}, config.MemoryConfig{})
	assert.IsType(t, &memory.CachedEmbedder{}, e)

	e = CreateEmbedder(config.LLMConfig{}, config.MemoryConfig{EmbeddingAPIKey: "k", CacheSize: 4})
	assert.NotNil(t, e)
}
