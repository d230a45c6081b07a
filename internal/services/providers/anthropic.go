package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicOption "github.com/anthropics/anthropic-sdk-go/option"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider adapts the Anthropic Messages API
type AnthropicProvider struct {
	name   string
	client anthropic.Client
}

func NewAnthropicProvider(name string, cfg models.ProviderConfig) *AnthropicProvider {
	opts := []anthropicOption.RequestOption{
		anthropicOption.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicOption.WithBaseURL(cfg.BaseURL))
	}
	for key, value := range cfg.Headers {
		opts = append(opts, anthropicOption.WithHeader(key, value))
	}
	if cfg.TimeoutMs > 0 {
		httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
		opts = append(opts, anthropicOption.WithHTTPClient(httpClient))
	}

	return &AnthropicProvider{name: name, client: anthropic.NewClient(opts...)}
}

// Name implements Provider
func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) buildParams(model, prompt string, params models.InferenceParams) anthropic.MessageNewParams {
	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}
	if params.TopP > 0 {
		req.TopP = anthropic.Float(params.TopP)
	}
	return req
}

// Invoke implements Provider
func (p *AnthropicProvider) Invoke(ctx context.Context, model, prompt string, params models.InferenceParams) (*InvocationResult, error) {
	start := time.Now()
	resp, err := p.client.Messages.New(ctx, p.buildParams(model, prompt, params))
	latency := time.Since(start)
	if err != nil {
		fiberlog.Errorf("AnthropicProvider: request for %s failed after %v: %v", model, latency, err)
		return nil, models.NewProviderError(p.name, "message request failed", err)
	}

	var text []byte
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = append(text, block.Text...)
		}
	}
	if len(text) == 0 {
		return nil, models.NewProviderError(p.name, "message returned no text content", nil)
	}

	return &InvocationResult{
		Text:       string(text),
		TokenCount: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Latency:    latency,
	}, nil
}

// InvokeStream implements Provider with true incremental delivery
func (p *AnthropicProvider) InvokeStream(ctx context.Context, model, prompt string, params models.InferenceParams, onToken TokenFunc) (*InvocationResult, error) {
	start := time.Now()
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(model, prompt, params))

	var text []byte
	for stream.Next() {
		event := stream.Current()
		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				text = append(text, delta.Delta.Text...)
				if onToken != nil {
					onToken(delta.Delta.Text)
				}
			}
		}
	}
	latency := time.Since(start)
	if err := stream.Err(); err != nil {
		fiberlog.Errorf("AnthropicProvider: stream for %s failed after %v: %v", model, latency, err)
		return nil, models.NewProviderError(p.name, "streaming message failed", err)
	}

	return &InvocationResult{
		Text:       string(text),
		TokenCount: estimateTokens(string(text)),
		Latency:    latency,
	}, nil
}
