package openai_sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/grinbot/grinbot/pkg/failure"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultRequestTimeout = 120 * time.Second
)

// StopSequence keeps the model from inventing its own tool observations.
const StopSequence = "\nObservation:"

type Provider struct {
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	client      *openai.Client
}

type Option func(*Provider)

func WithRequestTimeout(timeout time.Duration) Option {
	return func(p *Provider) {
		if timeout > 0 {
			p.httpClient.Timeout = timeout
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

func NewProvider(apiKey, apiBase, model string, opts ...Option) *Provider {
	p := &Provider{
		model:      normalizeModel(model),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	if p.model == "" {
		p.model = defaultModel
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.client = newClient(apiKey, apiBase, p.httpClient)
	return p
}

func newClient(apiKey, apiBase string, httpClient *http.Client) *openai.Client {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = defaultBaseURL
	}
	reqOpts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithHTTPClient(httpClient),
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(reqOpts...)
	return &client
}

func (p *Provider) Model() string { return p.model }

// Complete sends prompt as a single user message and returns the text of
// the first choice.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Stop:     openai.ChatCompletionNewParamsStopUnion{OfStringArray: []string{StopSequence}},
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Opt(int64(p.maxTokens))
	}
	if p.temperature > 0 {
		params.Temperature = openai.Opt(p.temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapError("chat completion", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", failure.Errorf(failure.LLM, "chat completion", "OpenAI API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func wrapError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.New(failure.Timeout, op, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := failure.LLM
		if apiErr.StatusCode == http.StatusTooManyRequests {
			kind = failure.RateLimited
		}
		return failure.New(kind, op, fmt.Errorf(
			"OpenAI API request failed (status=%d): %s",
			apiErr.StatusCode,
			strings.TrimSpace(apiErr.Message),
		))
	}
	return failure.New(failure.LLM, op, fmt.Errorf("OpenAI API request failed: %w", err))
}

func normalizeModel(model string) string {
	trimmed := strings.TrimSpace(model)
	if strings.HasPrefix(strings.ToLower(trimmed), "openai/") {
		return trimmed[len("openai/"):]
	}
	return trimmed
}
