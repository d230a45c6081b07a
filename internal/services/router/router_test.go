package router

import (
	"context"
	"math"
	"testing"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/adaptive"
	"github.com/mindfuse/ensemble-engine/internal/services/performance"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codingCatalog() []models.ModelProfile {
	return []models.ModelProfile{
		{
			Name:            "fast",
			Provider:        "mock",
			ResourceCostGB:  4,
			BaseReliability: 0.7,
			Specialization: map[models.QueryType]float64{
				models.QueryTypeCoding: 0.6,
			},
		},
		{
			Name:            "code-specialist",
			Provider:        "mock",
			ResourceCostGB:  8,
			BaseReliability: 0.85,
			Specialization: map[models.QueryType]float64{
				models.QueryTypeCoding: 0.95,
			},
		},
	}
}

func newTestRouter(t *testing.T, catalog []models.ModelProfile, state models.SystemState) (*Router, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(catalog, state)
	require.NoError(t, err)
	r := New(reg, performance.NewTracker(), adaptive.NewOverlay(1.15), nil, nil)
	return r, reg
}

func codingAnalysis() models.PromptAnalysis {
	return models.PromptAnalysis{
		QueryType:  models.QueryTypeCoding,
		Complexity: models.ComplexityLow,
	}
}

func TestScoreNeutralDefaultsNeverNaNOrNegative(t *testing.T) {
	catalog := []models.ModelProfile{{Name: "blank", Provider: "mock"}}
	r, _ := newTestRouter(t, catalog, models.SystemState{})

	for _, qt := range models.AllQueryTypes {
		for _, complexity := range []models.Complexity{models.ComplexityLow, models.ComplexityMedium, models.ComplexityHigh} {
			score := r.Score("blank", models.PromptAnalysis{QueryType: qt, Complexity: complexity})
			assert.False(t, math.IsNaN(score), "score must not be NaN for %s/%s", qt, complexity)
			assert.GreaterOrEqual(t, score, 0.0)
		}
	}
}

func TestScoreUnknownModelIsZero(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{})
	assert.Zero(t, r.Score("missing", codingAnalysis()))
}

func TestRouteSelectsSpecialistWithAmpleResources(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16, LoadFactor: 0.2})

	decision, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "", "test")
	require.NoError(t, err)
	assert.Equal(t, "code-specialist", decision.SelectedModel)
	assert.NotEmpty(t, decision.Rationale)
	assert.Equal(t, []string{"fast"}, decision.Alternatives)
}

func TestRouteSelectsCheapModelUnderMemoryPressure(t *testing.T) {
	// 6GB available: the specialist's 8GB footprint draws the penalty
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 6, LoadFactor: 0.2})

	decision, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "", "test")
	require.NoError(t, err)
	assert.Equal(t, "fast", decision.SelectedModel)
}

func TestRouteBoostsCheapModelUnderHighLoad(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16, LoadFactor: 0.9})

	fastScore := r.Score("fast", codingAnalysis())
	assert.InDelta(t, 0.6*1.1, fastScore, 1e-9)

	specialistScore := r.Score("code-specialist", codingAnalysis())
	assert.InDelta(t, 0.95, specialistScore, 1e-9)
}

func TestRouteDeterministic(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16})

	first, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "", "test")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "", "test")
		require.NoError(t, err)
		assert.Equal(t, first.SelectedModel, again.SelectedModel)
	}
}

func TestRouteTieBreaksByCostThenName(t *testing.T) {
	catalog := []models.ModelProfile{
		{Name: "zeta", Provider: "mock", ResourceCostGB: 4},
		{Name: "alpha", Provider: "mock", ResourceCostGB: 4},
		{Name: "big", Provider: "mock", ResourceCostGB: 8},
	}
	r, _ := newTestRouter(t, catalog, models.SystemState{AvailableMemoryGB: 16})

	decision, err := r.Route(context.Background(), "hi", codingAnalysis(), nil, "", "test")
	require.NoError(t, err)
	// Identical neutral scores: lowest cost wins, then lexicographic name
	assert.Equal(t, "alpha", decision.SelectedModel)
}

func TestRoutePinnedBypassesScoring(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16})

	decision, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "fast", "test")
	require.NoError(t, err)
	assert.Equal(t, "fast", decision.SelectedModel)
	assert.Equal(t, "fast", decision.RequestedModel)
	assert.Contains(t, decision.Rationale, "code-specialist")
}

func TestRoutePinnedUnknownModelErrors(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16})

	_, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "ghost", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoModelAvailable)
}

func TestRouteNoCandidates(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16})

	_, err := r.Route(context.Background(), "write code", codingAnalysis(), []string{"ghost"}, "", "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoModelAvailable)
}

func TestRouteUsesAdaptiveOverlay(t *testing.T) {
	reg, err := registry.New(codingCatalog(), models.SystemState{AvailableMemoryGB: 16})
	require.NoError(t, err)
	overlay := adaptive.NewOverlay(2.0)
	overlay.Replace(map[models.QueryType]string{models.QueryTypeCoding: "fast"})
	r := New(reg, performance.NewTracker(), overlay, nil, nil)

	decision, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "", "test")
	require.NoError(t, err)
	assert.Equal(t, "fast", decision.SelectedModel)
}

func TestRouteUsesSuccessRate(t *testing.T) {
	reg, err := registry.New(codingCatalog(), models.SystemState{AvailableMemoryGB: 16})
	require.NoError(t, err)
	tracker := performance.NewTracker()
	// Tank the specialist's recent success rate
	for i := 0; i < 20; i++ {
		tracker.Record("code-specialist", false, 0.1, 0)
	}
	r := New(reg, tracker, adaptive.NewOverlay(1.15), nil, nil)

	decision, err := r.Route(context.Background(), "write code", codingAnalysis(), nil, "", "test")
	require.NoError(t, err)
	assert.Equal(t, "fast", decision.SelectedModel)
}

func TestTopK(t *testing.T) {
	r, _ := newTestRouter(t, codingCatalog(), models.SystemState{AvailableMemoryGB: 16})

	top := r.TopK(codingAnalysis(), nil, 5, "test")
	require.Len(t, top, 2)
	assert.Equal(t, "code-specialist", top[0].Name)
	assert.Equal(t, "fast", top[1].Name)

	one := r.TopK(codingAnalysis(), nil, 1, "test")
	require.Len(t, one, 1)
	assert.Equal(t, "code-specialist", one[0].Name)
}

func TestDecisionConfidenceBounds(t *testing.T) {
	assert.Equal(t, 0.1, decisionConfidence(nil))
	assert.Equal(t, 0.5, decisionConfidence([]ScoredModel{{Score: 1}}))

	c := decisionConfidence([]ScoredModel{{Score: 1.0}, {Score: 0.1}})
	assert.Greater(t, c, 0.5)
	assert.LessOrEqual(t, c, 0.99)

	c = decisionConfidence([]ScoredModel{{Score: 1.0}, {Score: 1.0}})
	assert.InDelta(t, 0.5, c, 1e-9)
}
