package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
)

// InvocationResult is one provider call's raw output
type InvocationResult struct {
	Text       string
	TokenCount int
	Latency    time.Duration
}

// TokenFunc receives incremental tokens during a streaming invocation
type TokenFunc func(token string)

// Provider is the external inference collaborator. Implementations wrap one
// backend SDK; the dispatcher treats them uniformly.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, model, prompt string, params models.InferenceParams) (*InvocationResult, error)
	// InvokeStream delivers tokens incrementally via onToken and returns the
	// complete result. Providers without incremental delivery emit a single
	// terminal chunk.
	InvokeStream(ctx context.Context, model, prompt string, params models.InferenceParams, onToken TokenFunc) (*InvocationResult, error)
}

// Registry maps provider names to adapters
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a provider registry from the configured adapters
func NewRegistry(providers ...Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		reg.providers[strings.ToLower(p.Name())] = p
	}
	return reg
}

// Get returns the named provider
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Names returns the configured provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// estimateTokens approximates a token count when the provider reports none
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}
