package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
)

// MockProvider produces deterministic canned responses for local development
// and tests. Responses echo the model name and prompt so callers can assert
// exactly which model answered.
type MockProvider struct {
	name string

	// Responses maps model name to a fixed response. Models absent from
	// the map get a generated echo response.
	Responses map[string]string

	// Delay is applied per invocation to simulate inference latency.
	Delay time.Duration

	// FailModels lists models whose invocations always error.
	FailModels map[string]bool
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:       name,
		Responses:  make(map[string]string),
		FailModels: make(map[string]bool),
	}
}

// Name implements Provider
func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) respond(ctx context.Context, model, prompt string) (string, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.FailModels[model] {
		return "", models.NewProviderError(p.name, fmt.Sprintf("model %s is configured to fail", model), nil)
	}
	if canned, ok := p.Responses[model]; ok {
		return canned, nil
	}
	return fmt.Sprintf("[%s] response to: %s", model, prompt), nil
}

// Invoke implements Provider
func (p *MockProvider) Invoke(ctx context.Context, model, prompt string, _ models.InferenceParams) (*InvocationResult, error) {
	start := time.Now()
	text, err := p.respond(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	return &InvocationResult{
		Text:       text,
		TokenCount: estimateTokens(text),
		Latency:    time.Since(start),
	}, nil
}

// InvokeStream implements Provider, emitting the response word by word.
func (p *MockProvider) InvokeStream(ctx context.Context, model, prompt string, _ models.InferenceParams, onToken TokenFunc) (*InvocationResult, error) {
	start := time.Now()
	text, err := p.respond(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	if onToken != nil {
		words := strings.Fields(text)
		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			onToken(word)
		}
	}
	return &InvocationResult{
		Text:       text,
		TokenCount: estimateTokens(text),
		Latency:    time.Since(start),
	}, nil
}
