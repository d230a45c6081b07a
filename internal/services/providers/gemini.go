package providers

import (
	"context"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

// GeminiProvider adapts the Gemini API via the google genai SDK
type GeminiProvider struct {
	name string
	cfg  models.ProviderConfig
}

func NewGeminiProvider(name string, cfg models.ProviderConfig) *GeminiProvider {
	return &GeminiProvider{name: name, cfg: cfg}
}

// Name implements Provider
func (p *GeminiProvider) Name() string { return p.name }

// genai clients are cheap to construct and carry the context they were
// created with, so one is built per invocation.
func (p *GeminiProvider) client(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, models.NewProviderError(p.name, "failed to create client", err)
	}
	return client, nil
}

func buildGenerationConfig(params models.InferenceParams) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if params.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(params.Temperature))
	}
	if params.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(params.TopP))
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}
	return cfg
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var text []byte
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			text = append(text, part.Text...)
		}
	}
	return string(text)
}

// Invoke implements Provider
func (p *GeminiProvider) Invoke(ctx context.Context, model, prompt string, params models.InferenceParams) (*InvocationResult, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, contents, buildGenerationConfig(params))
	latency := time.Since(start)
	if err != nil {
		fiberlog.Errorf("GeminiProvider: request for %s failed after %v: %v", model, latency, err)
		return nil, models.NewProviderError(p.name, "generate request failed", err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, models.NewProviderError(p.name, "generate returned no text content", nil)
	}

	tokenCount := estimateTokens(text)
	if resp.UsageMetadata != nil {
		tokenCount = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &InvocationResult{Text: text, TokenCount: tokenCount, Latency: latency}, nil
}

// InvokeStream implements Provider with true incremental delivery
func (p *GeminiProvider) InvokeStream(ctx context.Context, model, prompt string, params models.InferenceParams, onToken TokenFunc) (*InvocationResult, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	start := time.Now()
	var text []byte
	for chunk, iterErr := range client.Models.GenerateContentStream(ctx, model, contents, buildGenerationConfig(params)) {
		if iterErr != nil {
			latency := time.Since(start)
			fiberlog.Errorf("GeminiProvider: stream for %s failed after %v: %v", model, latency, iterErr)
			return nil, models.NewProviderError(p.name, "streaming generate failed", iterErr)
		}
		delta := extractText(chunk)
		if delta == "" {
			continue
		}
		text = append(text, delta...)
		if onToken != nil {
			onToken(delta)
		}
	}
	latency := time.Since(start)

	return &InvocationResult{
		Text:       string(text),
		TokenCount: estimateTokens(string(text)),
		Latency:    latency,
	}, nil
}
