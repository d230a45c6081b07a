package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/adaptive"
	"github.com/mindfuse/ensemble-engine/internal/services/analyzer"
	"github.com/mindfuse/ensemble-engine/internal/services/calibration"
	"github.com/mindfuse/ensemble-engine/internal/services/dispatch"
	"github.com/mindfuse/ensemble-engine/internal/services/fusion"
	"github.com/mindfuse/ensemble-engine/internal/services/history"
	"github.com/mindfuse/ensemble-engine/internal/services/performance"
	"github.com/mindfuse/ensemble-engine/internal/services/providers"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"
	"github.com/mindfuse/ensemble-engine/internal/services/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	engine  *Engine
	history *history.Log
	mock    *providers.MockProvider
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	reg, err := registry.New([]models.ModelProfile{
		{
			Name:            "fast",
			Provider:        "mock",
			ResourceCostGB:  4,
			BaseReliability: 0.7,
			Specialization:  map[models.QueryType]float64{models.QueryTypeCoding: 0.6},
		},
		{
			Name:            "code-specialist",
			Provider:        "mock",
			ResourceCostGB:  8,
			BaseReliability: 0.85,
			Specialization:  map[models.QueryType]float64{models.QueryTypeCoding: 0.95},
		},
		{
			Name:            "generalist",
			Provider:        "mock",
			ResourceCostGB:  6,
			BaseReliability: 0.8,
		},
	}, models.SystemState{AvailableMemoryGB: 16, LoadFactor: 0.2})
	require.NoError(t, err)

	mock := providers.NewMockProvider("mock")
	long := strings.TrimSpace(strings.Repeat("a complete answer with enough substance to clear validation. ", 3))
	mock.Responses["fast"] = "fast: " + long
	mock.Responses["code-specialist"] = "specialist: " + long
	mock.Responses["generalist"] = "generalist: " + long

	tracker := performance.NewTracker()
	overlay := adaptive.NewOverlay(models.DefaultAdaptiveBoost)
	log := history.NewLog(100, nil)
	rt := router.New(reg, tracker, overlay, nil, nil)
	disp := dispatch.New(reg, providers.NewRegistry(mock), nil, 3, "fast")

	eng := New(models.EngineConfig{FallbackModel: "fast"}, Deps{
		Registry:   reg,
		Analyzer:   analyzer.New(analyzer.NewKeywordClassifier()),
		Router:     rt,
		Dispatcher: disp,
		Fusion:     fusion.New(reg, models.DefaultQualityWeights(), 50),
		Calibrator: calibration.New(reg, nil),
		History:    log,
		Tracker:    tracker,
		Cycle:      adaptive.NewLearningCycle(overlay, log, 50, time.Hour),
	})

	return &testHarness{engine: eng, history: log, mock: mock}
}

func TestRouteAndInferSingle(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt: "write a function to reverse a linked list in golang code",
	})
	require.NoError(t, err)

	require.Len(t, result.ModelsUsed, 1)
	assert.NotEmpty(t, result.Content)
	assert.NotEmpty(t, result.Rationale)
	assert.False(t, result.Fallback)
	assert.GreaterOrEqual(t, result.Confidence, 0.05)
	assert.LessOrEqual(t, result.Confidence, 0.98)
	assert.Greater(t, result.Latency, time.Duration(0))

	records := h.history.RecentRouting(10)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, result.Confidence, records[0].FinalConfidence)
}

func TestRouteAndInferEnsemble(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt:       "compare three approaches to caching and recommend one",
		EnsembleSize: 3,
		Strategy:     models.StrategyQualityAveraging,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StrategyQualityAveraging, result.Strategy)
	assert.GreaterOrEqual(t, len(result.ModelsUsed), 2)
	assert.NotEmpty(t, result.Content)
	assert.GreaterOrEqual(t, result.Confidence, 0.05)
	assert.LessOrEqual(t, result.Confidence, 0.98)

	fusions := h.history.RecentFusion(10)
	require.Len(t, fusions, 1)
	assert.Equal(t, models.StrategyQualityAveraging, fusions[0].Strategy)
	assert.ElementsMatch(t, result.ModelsUsed, fusions[0].Models)
}

func TestRouteAndInferPinnedModel(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt:      "hello there",
		PinnedModel: "generalist",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"generalist"}, result.ModelsUsed)
	assert.True(t, strings.HasPrefix(result.Content, "generalist:"))
}

func TestRouteAndInferPinnedUnknownModel(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt:      "hello there",
		PinnedModel: "ghost",
	})
	require.ErrorIs(t, err, models.ErrNoModelAvailable)
}

func TestRouteAndInferStreamSingle(t *testing.T) {
	h := newTestHarness(t)

	var chunks []models.TokenChunk
	result, err := h.engine.RouteAndInferStream(context.Background(), &models.InferenceRequest{
		Prompt:      "summarize this conversation",
		PinnedModel: "fast",
	}, func(chunk models.TokenChunk) {
		chunks = append(chunks, chunk)
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.True(t, last.Done)

	var joined strings.Builder
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.Equal(t, "fast", chunk.Model)
		joined.WriteString(chunk.Text)
	}
	assert.Equal(t, result.Content, joined.String())
}

func TestRouteAndInferStreamEnsemble(t *testing.T) {
	h := newTestHarness(t)

	var tokenChunks int
	var doneChunks int
	result, err := h.engine.RouteAndInferStream(context.Background(), &models.InferenceRequest{
		Prompt:       "explain the tradeoffs of eventual consistency",
		EnsembleSize: 2,
	}, func(chunk models.TokenChunk) {
		if chunk.Done {
			doneChunks++
		} else {
			tokenChunks++
		}
	})
	require.NoError(t, err)
	assert.Greater(t, tokenChunks, 0)
	assert.Equal(t, 1, doneChunks)
	assert.GreaterOrEqual(t, len(result.ModelsUsed), 2)
}

func TestRouteAndInferFallbackTagging(t *testing.T) {
	h := newTestHarness(t)
	h.mock.FailModels["generalist"] = true

	result, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt:      "hello there",
		PinnedModel: "generalist",
	})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.True(t, strings.HasPrefix(result.Content, "fast:"))

	records := h.history.RecentRouting(10)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
}

func TestRouteAndInferCancelled(t *testing.T) {
	h := newTestHarness(t)
	h.mock.Delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.RouteAndInfer(ctx, &models.InferenceRequest{Prompt: "hello there"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsembleSizeBelowOneBehavesAsSingle(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt:       "hello there",
		EnsembleSize: -3,
	})
	require.NoError(t, err)
	assert.Len(t, result.ModelsUsed, 1)
	assert.Empty(t, result.Strategy)
}

func TestTrackerObservesEveryResponse(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.RouteAndInfer(context.Background(), &models.InferenceRequest{
		Prompt:       "compare two sorting algorithms for partially sorted input",
		EnsembleSize: 2,
	})
	require.NoError(t, err)

	tracked := 0
	for _, name := range []string{"fast", "code-specialist", "generalist"} {
		if h.engine.Tracker().Snapshot(name).TotalInferences > 0 {
			tracked++
		}
	}
	assert.GreaterOrEqual(t, tracked, 2)
}
