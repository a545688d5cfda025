// Package providers adapts language model backends to the single-call
// contract the agent loop needs.
package providers

import (
	"context"
	"strings"

	"github.com/grinbot/grinbot/pkg/config"
	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
	anthropicprovider "github.com/grinbot/grinbot/pkg/providers/anthropic"
	"github.com/grinbot/grinbot/pkg/providers/openai_sdk"
)

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NotConfiguredReply is what the fallback model answers.
const NotConfiguredReply = "Final Answer: I am not configured yet. " +
	"Set llm.provider, llm.model and llm.api_key in the configuration to connect a language model."

// NotConfigured is the model used when no provider is set. Its reply is a
// well-formed final answer, so an episode ends after one round.
type NotConfigured struct{}

func (NotConfigured) Complete(context.Context, string) (string, error) {
	return NotConfiguredReply, nil
}

// CreateProvider is the single entry point for constructing a Completer.
func CreateProvider(cfg config.LLMConfig) Completer {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		logger.InfoCF("providers", "Using OpenAI-compatible provider",
			map[string]any{"model": cfg.Model, "base_url": cfg.BaseURL})
		return openai_sdk.NewProvider(cfg.APIKey, cfg.BaseURL, cfg.Model,
			openai_sdk.WithMaxTokens(cfg.MaxTokens),
			openai_sdk.WithTemperature(cfg.Temperature))
	case "anthropic":
		logger.InfoCF("providers", "Using Anthropic provider",
			map[string]any{"model": cfg.Model})
		return anthropicprovider.NewProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	}
	logger.WarnC("providers", "No language model configured, using the fallback")
	return NotConfigured{}
}

// CreateEmbedder returns the embedder for memory recall, or nil when no
// OpenAI-compatible key is available. Embeddings are cached in front of
// the remote call.
func CreateEmbedder(llm config.LLMConfig, mem config.MemoryConfig) memory.Embedder {
	key, base := mem.EmbeddingAPIKey, mem.EmbeddingBaseURL
	if key == "" && strings.EqualFold(llm.Provider, "openai") {
		key = llm.APIKey
		if base == "" {
			base = llm.BaseURL
		}
	}
	if key == "" {
		logger.InfoC("providers", "No embedding key configured, memory recall disabled")
		return nil
	}
	cached, err := memory.NewCachedEmbedder(openai_sdk.NewEmbedder(key, base, mem.EmbeddingModel, nil), mem.CacheSize)
	if err != nil {
		logger.WarnCF("providers", "Embedding cache unavailable", map[string]any{"error": err.Error()})
		return openai_sdk.NewEmbedder(key, base, mem.EmbeddingModel, nil)
	}
	return cached
}
