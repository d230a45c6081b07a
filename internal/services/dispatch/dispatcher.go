package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/circuitbreaker"
	"github.com/mindfuse/ensemble-engine/internal/services/providers"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/semaphore"
)

// fallbackConfidence is the raw confidence assigned to any response produced
// by the fallback path rather than the routed model.
const fallbackConfidence = 0.1

// degradedContent is returned when both the routed model and the fallback
// model fail. The caller still receives a usable result, never an error.
const degradedContent = "unable to produce a response at this time"

// Dispatcher invokes inference providers under a fixed concurrency cap.
// Excess calls queue in semaphore acquisition order. Provider failures are
// recovered locally by one retry against the configured fallback model.
type Dispatcher struct {
	registry  *registry.Registry
	providers *providers.Registry
	breakers  map[string]circuitbreaker.Breaker
	sem       *semaphore.Weighted
	fallback  string
}

func New(reg *registry.Registry, provs *providers.Registry, breakers map[string]circuitbreaker.Breaker, maxConcurrent int64, fallbackModel string) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = models.DefaultMaxConcurrentInference
	}
	return &Dispatcher{
		registry:  reg,
		providers: provs,
		breakers:  breakers,
		sem:       semaphore.NewWeighted(maxConcurrent),
		fallback:  fallbackModel,
	}
}

// resolveParams merges caller overrides onto the model's catalog defaults
func resolveParams(profile models.ModelProfile, override *models.InferenceParams) models.InferenceParams {
	params := profile.Parameters
	if override == nil {
		return params
	}
	if override.Temperature > 0 {
		params.Temperature = override.Temperature
	}
	if override.TopP > 0 {
		params.TopP = override.TopP
	}
	if override.MaxTokens > 0 {
		params.MaxTokens = override.MaxTokens
	}
	return params
}

// Infer invokes the given model, falling back once on failure. The returned
// response is always usable; only context cancellation produces an error, so
// cancelled invocations never reach fusion or metrics.
func (d *Dispatcher) Infer(ctx context.Context, model, prompt string, override *models.InferenceParams, requestID string) (*models.ModelResponse, error) {
	return d.infer(ctx, model, prompt, override, requestID, nil)
}

// InferStream is Infer with token-incremental delivery. Fallback responses
// stream too, so the caller sees tokens regardless of which model answered.
func (d *Dispatcher) InferStream(ctx context.Context, model, prompt string, override *models.InferenceParams, requestID string, onToken providers.TokenFunc) (*models.ModelResponse, error) {
	return d.infer(ctx, model, prompt, override, requestID, onToken)
}

func (d *Dispatcher) infer(ctx context.Context, model, prompt string, override *models.InferenceParams, requestID string, onToken providers.TokenFunc) (*models.ModelResponse, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("dispatch queue: %w", err)
	}
	defer d.sem.Release(1)

	result, profile, err := d.invokeModel(ctx, model, prompt, override, requestID, onToken)
	if err == nil {
		return &models.ModelResponse{
			Model:         model,
			Text:          result.Text,
			RawConfidence: profile.BaseReliability,
			TokenCount:    result.TokenCount,
			Latency:       result.Latency,
			Timestamp:     time.Now(),
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	fiberlog.Warnf("[%s] Dispatcher: %s failed, retrying with fallback %s: %v", requestID, model, d.fallback, err)

	originalErr := err
	if d.fallback != "" && d.fallback != model {
		result, _, fbErr := d.invokeModel(ctx, d.fallback, prompt, override, requestID, onToken)
		if fbErr == nil {
			return &models.ModelResponse{
				Model:          d.fallback,
				Text:           result.Text,
				RawConfidence:  fallbackConfidence,
				TokenCount:     result.TokenCount,
				Latency:        result.Latency,
				Fallback:       true,
				FallbackReason: originalErr.Error(),
				Timestamp:      time.Now(),
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fiberlog.Errorf("[%s] Dispatcher: fallback %s also failed: %v", requestID, d.fallback, fbErr)
	}

	// Degraded sentinel. Inference provider failures never surface as hard
	// errors to the caller.
	return &models.ModelResponse{
		Model:          model,
		Text:           degradedContent,
		RawConfidence:  fallbackConfidence,
		Fallback:       true,
		FallbackReason: originalErr.Error(),
		Timestamp:      time.Now(),
	}, nil
}

// invokeModel resolves the model's provider and executes one invocation,
// respecting the provider's circuit breaker.
func (d *Dispatcher) invokeModel(ctx context.Context, model, prompt string, override *models.InferenceParams, requestID string, onToken providers.TokenFunc) (*providers.InvocationResult, models.ModelProfile, error) {
	profile, ok := d.registry.Profile(model)
	if !ok {
		return nil, profile, fmt.Errorf("model %q not in catalog", model)
	}

	provider, err := d.providers.Get(profile.Provider)
	if err != nil {
		return nil, profile, err
	}

	breaker := d.breakers[profile.Provider]
	if breaker != nil && !breaker.CanExecute() {
		fiberlog.Warnf("[%s] Dispatcher: circuit breaker open for provider %s, skipping %s", requestID, profile.Provider, model)
		return nil, profile, models.NewProviderError(profile.Provider, "circuit breaker open", nil)
	}

	params := resolveParams(profile, override)

	var result *providers.InvocationResult
	if onToken != nil {
		result, err = provider.InvokeStream(ctx, model, prompt, params, onToken)
	} else {
		result, err = provider.Invoke(ctx, model, prompt, params)
	}

	if breaker != nil && ctx.Err() == nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	if err != nil {
		return nil, profile, err
	}

	fiberlog.Debugf("[%s] Dispatcher: %s answered in %v (%d tokens)", requestID, model, result.Latency, result.TokenCount)
	return result, profile, nil
}

// InferAll dispatches the prompt to every listed model concurrently and
// returns the responses that completed. Cancelled invocations are dropped
// rather than reported, so sibling results are unaffected.
func (d *Dispatcher) InferAll(ctx context.Context, modelNames []string, prompt string, override *models.InferenceParams, requestID string) []models.ModelResponse {
	type indexed struct {
		idx  int
		resp *models.ModelResponse
	}
	results := make(chan indexed, len(modelNames))

	for i, name := range modelNames {
		go func(idx int, model string) {
			resp, err := d.Infer(ctx, model, prompt, override, requestID)
			if err != nil {
				fiberlog.Debugf("[%s] Dispatcher: %s cancelled: %v", requestID, model, err)
				results <- indexed{idx: idx}
				return
			}
			results <- indexed{idx: idx, resp: resp}
		}(i, name)
	}

	ordered := make([]*models.ModelResponse, len(modelNames))
	for range modelNames {
		r := <-results
		ordered[r.idx] = r.resp
	}

	responses := make([]models.ModelResponse, 0, len(modelNames))
	for _, resp := range ordered {
		if resp != nil {
			responses = append(responses, *resp)
		}
	}
	return responses
}
