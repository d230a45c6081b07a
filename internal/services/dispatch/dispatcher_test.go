package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/circuitbreaker"
	"github.com/mindfuse/ensemble-engine/internal/services/providers"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSetup(t *testing.T, mock *providers.MockProvider) (*registry.Registry, *providers.Registry) {
	t.Helper()
	reg, err := registry.New([]models.ModelProfile{
		{Name: "primary", Provider: "mock", BaseReliability: 0.8},
		{Name: "fallback", Provider: "mock", BaseReliability: 0.7},
	}, models.SystemState{})
	require.NoError(t, err)
	return reg, providers.NewRegistry(mock)
}

func TestInferSuccess(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.Responses["primary"] = "a fine answer"
	reg, provs := testSetup(t, mock)

	d := New(reg, provs, nil, 3, "fallback")
	resp, err := d.Infer(context.Background(), "primary", "hello", nil, "test")
	require.NoError(t, err)

	assert.Equal(t, "primary", resp.Model)
	assert.Equal(t, "a fine answer", resp.Text)
	assert.Equal(t, 0.8, resp.RawConfidence)
	assert.False(t, resp.Fallback)
}

func TestInferFallsBackOnFailure(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.FailModels["primary"] = true
	mock.Responses["fallback"] = "degraded but useful"
	reg, provs := testSetup(t, mock)

	d := New(reg, provs, nil, 3, "fallback")
	resp, err := d.Infer(context.Background(), "primary", "hello", nil, "test")
	require.NoError(t, err)

	assert.Equal(t, "fallback", resp.Model)
	assert.Equal(t, "degraded but useful", resp.Text)
	assert.True(t, resp.Fallback)
	assert.NotEmpty(t, resp.FallbackReason)
	assert.Equal(t, 0.1, resp.RawConfidence)
}

func TestInferDegradedWhenFallbackAlsoFails(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.FailModels["primary"] = true
	mock.FailModels["fallback"] = true
	reg, provs := testSetup(t, mock)

	d := New(reg, provs, nil, 3, "fallback")
	resp, err := d.Infer(context.Background(), "primary", "hello", nil, "test")
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, degradedContent, resp.Text)
	assert.Equal(t, 0.1, resp.RawConfidence)
}

func TestInferUnknownModelDegrades(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	reg, provs := testSetup(t, mock)

	d := New(reg, provs, nil, 3, "fallback")
	resp, err := d.Infer(context.Background(), "ghost", "hello", nil, "test")
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Equal(t, "fallback", resp.Model)
}

func TestInferCancellationPropagates(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.Delay = 200 * time.Millisecond
	reg, provs := testSetup(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(reg, provs, nil, 3, "fallback")
	_, err := d.Infer(ctx, "primary", "hello", nil, "test")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferSkipsOpenBreakerToFallback(t *testing.T) {
	broken := providers.NewMockProvider("broken")
	mock := providers.NewMockProvider("mock")
	reg, err := registry.New([]models.ModelProfile{
		{Name: "primary", Provider: "broken", BaseReliability: 0.8},
		{Name: "fallback", Provider: "mock", BaseReliability: 0.7},
	}, models.SystemState{})
	require.NoError(t, err)

	breaker := circuitbreaker.NewMemoryBreaker("broken", circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
	breaker.RecordFailure()
	require.Equal(t, circuitbreaker.Open, breaker.GetState())

	d := New(reg, providers.NewRegistry(broken, mock), map[string]circuitbreaker.Breaker{"broken": breaker}, 3, "fallback")
	resp, err := d.Infer(context.Background(), "primary", "hello", nil, "test")
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Model)
	assert.True(t, resp.Fallback)
	assert.Contains(t, resp.FallbackReason, "circuit breaker")
}

func TestResolveParams(t *testing.T) {
	profile := models.ModelProfile{
		Parameters: models.InferenceParams{Temperature: 0.7, TopP: 0.9, MaxTokens: 1024},
	}

	merged := resolveParams(profile, nil)
	assert.Equal(t, 0.7, merged.Temperature)

	merged = resolveParams(profile, &models.InferenceParams{Temperature: 0.2})
	assert.Equal(t, 0.2, merged.Temperature)
	assert.Equal(t, 0.9, merged.TopP)
	assert.Equal(t, 1024, merged.MaxTokens)
}

func TestInferAllReturnsAllResponses(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.Responses["primary"] = "first"
	mock.Responses["fallback"] = "second"
	reg, provs := testSetup(t, mock)

	d := New(reg, provs, nil, 3, "fallback")
	responses := d.InferAll(context.Background(), []string{"primary", "fallback"}, "hello", nil, "test")
	require.Len(t, responses, 2)
	assert.Equal(t, "primary", responses[0].Model)
	assert.Equal(t, "fallback", responses[1].Model)
}

func TestInferAllDropsCancelled(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.Delay = 200 * time.Millisecond
	reg, provs := testSetup(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(reg, provs, nil, 3, "fallback")
	responses := d.InferAll(ctx, []string{"primary", "fallback"}, "hello", nil, "test")
	assert.Empty(t, responses)
}

// countingProvider records how many invocations run concurrently
type countingProvider struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (p *countingProvider) Name() string { return "mock" }

func (p *countingProvider) Invoke(ctx context.Context, model, prompt string, _ models.InferenceParams) (*providers.InvocationResult, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return &providers.InvocationResult{Text: "ok"}, nil
}

func (p *countingProvider) InvokeStream(ctx context.Context, model, prompt string, params models.InferenceParams, onToken providers.TokenFunc) (*providers.InvocationResult, error) {
	return p.Invoke(ctx, model, prompt, params)
}

func TestConcurrencyCapIsRespected(t *testing.T) {
	counting := &countingProvider{}
	reg, err := registry.New([]models.ModelProfile{
		{Name: "m1", Provider: "mock"}, {Name: "m2", Provider: "mock"},
		{Name: "m3", Provider: "mock"}, {Name: "m4", Provider: "mock"},
		{Name: "m5", Provider: "mock"}, {Name: "m6", Provider: "mock"},
	}, models.SystemState{})
	require.NoError(t, err)

	d := New(reg, providers.NewRegistry(counting), nil, 2, "")

	var wg sync.WaitGroup
	for _, name := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			_, err := d.Infer(context.Background(), model, "hello", nil, "test")
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	assert.LessOrEqual(t, counting.maxInFlight, 2)
	assert.Greater(t, counting.maxInFlight, 0)
}

func TestInferStreamDeliversTokens(t *testing.T) {
	mock := providers.NewMockProvider("mock")
	mock.Responses["primary"] = "one two three"
	reg, provs := testSetup(t, mock)

	var tokens []string
	d := New(reg, provs, nil, 3, "fallback")
	resp, err := d.InferStream(context.Background(), "primary", "hello", nil, "test", func(token string) {
		tokens = append(tokens, token)
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", resp.Text)
	assert.Equal(t, "one two three", strings.Join(tokens, ""))
	assert.Len(t, tokens, 3)
}
