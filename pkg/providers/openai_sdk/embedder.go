package openai_sdk

import (
	"context"
	"net/http"

	"github.com/openai/openai-go/v3"

	"github.com/grinbot/grinbot/pkg/failure"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// Embedder computes vectors with the OpenAI embeddings endpoint.
type Embedder struct {
	model  string
	client *openai.Client
}

func NewEmbedder(apiKey, apiBase, model string, httpClient *http.Client) *Embedder {
	if model == "" {
		model = defaultEmbeddingModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Embedder{model: model, client: newClient(apiKey, apiBase, httpClient)}
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, wrapError("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, failure.Errorf(failure.LLM, "embed",
			"got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, failure.Errorf(failure.LLM, "embed", "embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
