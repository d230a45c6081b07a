package providers

import (
	"strings"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// BuildRegistry constructs one adapter per configured provider. Anthropic and
// Gemini get their native SDKs; "mock" gets the deterministic local provider;
// everything else is treated as OpenAI-compatible, with base_url selecting
// the backend.
func BuildRegistry(configs map[string]models.ProviderConfig) *Registry {
	adapters := make([]Provider, 0, len(configs))
	for name, cfg := range configs {
		switch strings.ToLower(name) {
		case "anthropic":
			adapters = append(adapters, NewAnthropicProvider(name, cfg))
		case "gemini", "google":
			adapters = append(adapters, NewGeminiProvider(name, cfg))
		case "mock":
			adapters = append(adapters, NewMockProvider(name))
		default:
			adapters = append(adapters, NewOpenAIProvider(name, cfg))
		}
		fiberlog.Debugf("providers: registered adapter %s", name)
	}
	return NewRegistry(adapters...)
}
