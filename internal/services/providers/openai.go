package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go/v2"
	openaiOption "github.com/openai/openai-go/v2/option"
)

// OpenAIProvider adapts any OpenAI-compatible chat completion API
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider builds an adapter from provider config. The name may be
// "openai" or any OpenAI-compatible backend reached via a custom base URL.
func NewOpenAIProvider(name string, cfg models.ProviderConfig) *OpenAIProvider {
	opts := []openaiOption.RequestOption{
		openaiOption.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiOption.WithBaseURL(cfg.BaseURL))
	}
	for key, value := range cfg.Headers {
		opts = append(opts, openaiOption.WithHeader(key, value))
	}
	if cfg.TimeoutMs > 0 {
		httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
		opts = append(opts, openaiOption.WithHTTPClient(httpClient))
	}

	return &OpenAIProvider{name: name, client: openai.NewClient(opts...)}
}

// Name implements Provider
func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) buildParams(model, prompt string, params models.InferenceParams) openai.ChatCompletionNewParams {
	req := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	if params.TopP > 0 {
		req.TopP = openai.Float(params.TopP)
	}
	if params.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(params.MaxTokens))
	}
	return req
}

// Invoke implements Provider
func (p *OpenAIProvider) Invoke(ctx context.Context, model, prompt string, params models.InferenceParams) (*InvocationResult, error) {
	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(model, prompt, params))
	latency := time.Since(start)
	if err != nil {
		fiberlog.Errorf("OpenAIProvider: request for %s failed after %v: %v", model, latency, err)
		return nil, models.NewProviderError(p.name, "completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewProviderError(p.name, "completion returned no choices", nil)
	}

	return &InvocationResult{
		Text:       resp.Choices[0].Message.Content,
		TokenCount: int(resp.Usage.TotalTokens),
		Latency:    latency,
	}, nil
}

// InvokeStream implements Provider with true incremental delivery
func (p *OpenAIProvider) InvokeStream(ctx context.Context, model, prompt string, params models.InferenceParams, onToken TokenFunc) (*InvocationResult, error) {
	start := time.Now()
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(model, prompt, params))

	var text []byte
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text = append(text, delta...)
		if onToken != nil {
			onToken(delta)
		}
	}
	latency := time.Since(start)
	if err := stream.Err(); err != nil {
		fiberlog.Errorf("OpenAIProvider: stream for %s failed after %v: %v", model, latency, err)
		return nil, models.NewProviderError(p.name, "streaming completion failed", err)
	}

	return &InvocationResult{
		Text:       string(text),
		TokenCount: estimateTokens(string(text)),
		Latency:    latency,
	}, nil
}
