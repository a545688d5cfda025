package anthropicprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/grinbot/grinbot/pkg/failure"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// StopSequence keeps the model from inventing its own tool observations.
const StopSequence = "\nObservation:"

type Provider struct {
	client      *anthropic.Client
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

func NewProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *Provider {
	baseURL := normalizeBaseURL(apiBase)
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return NewProviderWithClient(&client, baseURL, model, maxTokens, temperature)
}

func NewProviderWithClient(client *anthropic.Client, baseURL, model string, maxTokens int, temperature float64) *Provider {
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Provider{
		client:      client,
		baseURL:     baseURL,
		model:       strings.TrimPrefix(model, "anthropic/"),
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (p *Provider) Model() string   { return p.model }
func (p *Provider) BaseURL() string { return p.baseURL }

// Complete sends prompt as one user turn and concatenates the text blocks
// of the reply.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(p.model),
		MaxTokens:     int64(p.maxTokens),
		StopSequences: []string{StopSequence},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapError(err)
	}
	return parseResponse(resp), nil
}

func parseResponse(resp *anthropic.Message) string {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.AsText().Text)
		}
	}
	return content.String()
}

func wrapError(err error) error {
	const op = "messages"
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.New(failure.Timeout, op, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := failure.LLM
		if apiErr.StatusCode == http.StatusTooManyRequests {
			kind = failure.RateLimited
		}
		return failure.New(kind, op, fmt.Errorf("Anthropic API request failed (status=%d)", apiErr.StatusCode))
	}
	return failure.New(failure.LLM, op, fmt.Errorf("Anthropic API request failed: %w", err))
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}

	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	if base == "" {
		return defaultBaseURL
	}

	return base
}
