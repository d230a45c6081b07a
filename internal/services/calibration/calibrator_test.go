package calibration

import (
	"strings"
	"testing"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	records []models.CalibrationRecord
}

func (s *recordingSink) StoreCalibrationRecord(rec models.CalibrationRecord) {
	s.records = append(s.records, rec)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]models.ModelProfile{
		{
			Name:            "coder",
			Provider:        "mock",
			BaseReliability: 0.85,
			Specialization:  map[models.QueryType]float64{models.QueryTypeCoding: 0.95},
		},
		{
			Name:            "chatty",
			Provider:        "mock",
			BaseReliability: 0.7,
			Specialization:  map[models.QueryType]float64{models.QueryTypeCoding: 0.4},
		},
	}, models.SystemState{})
	require.NoError(t, err)
	return reg
}

func TestCalibrateStaysBounded(t *testing.T) {
	c := New(testRegistry(t), nil)

	contexts := []models.CalibrationContext{
		{},
		{EnsembleStrategy: models.StrategyConsensusBased, ContributingModels: []string{"a", "b", "c", "d", "e"}},
		{ConversationTurns: 100, TopicFamiliarity: 1, Complexity: models.ComplexityLow},
	}
	contents := []string{"", strings.Repeat("x", 5000), "the answer is 42, in fact this means certainty"}

	for _, raw := range []float64{-1, 0, 0.0001, 0.5, 0.9999, 1, 2} {
		for _, cctx := range contexts {
			for _, content := range contents {
				got := c.Calibrate(raw, content, "chatty", cctx)
				assert.GreaterOrEqual(t, got, 0.05, "raw=%v", raw)
				assert.LessOrEqual(t, got, 0.98, "raw=%v", raw)
			}
		}
	}
}

func TestBaseConfidenceUsesCatalogUntilLearned(t *testing.T) {
	c := New(testRegistry(t), nil)

	assert.InDelta(t, 0.7, c.baseConfidence("chatty"), 1e-9)
	assert.InDelta(t, 0.5, c.baseConfidence("stranger"), 1e-9)

	c.Preload("chatty", models.ModelCalibrationInfo{
		SampleCount:   learnedBaseSamples,
		ConfidenceSum: 0.9 * learnedBaseSamples,
	})
	assert.InDelta(t, 0.9, c.baseConfidence("chatty"), 1e-9)
}

func TestBaseConfidenceLearnedFromObservations(t *testing.T) {
	c := New(testRegistry(t), nil)

	for i := 0; i < learnedBaseSamples; i++ {
		c.record("chatty", 0.9, 0.9)
	}
	assert.InDelta(t, 0.9, c.baseConfidence("chatty"), 0.01)
}

func TestBaseConfidenceIgnoresSparseHistory(t *testing.T) {
	c := New(testRegistry(t), nil)
	c.Preload("chatty", models.ModelCalibrationInfo{SampleCount: 10, ConfidenceSum: 9.5})
	assert.InDelta(t, 0.7, c.baseConfidence("chatty"), 1e-9)
}

func TestPromotionOverwritesBaseReliability(t *testing.T) {
	reg := testRegistry(t)
	c := New(reg, nil)

	longAnswer := strings.Repeat("a steady answer of moderate length. ", 3)
	for i := 0; i < promotionThreshold; i++ {
		c.Calibrate(0.9, longAnswer, "chatty", models.CalibrationContext{})
	}

	profile, ok := reg.Profile("chatty")
	require.True(t, ok)
	assert.NotEqual(t, 0.7, profile.BaseReliability)
	assert.InDelta(t, c.Info("chatty").AverageAccuracy(), profile.BaseReliability, 1e-9)
}

func TestPromotionFiresOnPreloadedTotals(t *testing.T) {
	reg := testRegistry(t)
	c := New(reg, nil)

	c.Preload("chatty", models.ModelCalibrationInfo{
		SampleCount:   promotionThreshold + 10,
		ConfidenceSum: 0.9 * (promotionThreshold + 10),
	})

	profile, ok := reg.Profile("chatty")
	require.True(t, ok)
	assert.InDelta(t, 0.9, profile.BaseReliability, 1e-9)
}

func TestPromotionFiresOnce(t *testing.T) {
	reg := testRegistry(t)
	c := New(reg, nil)

	for i := 0; i < promotionThreshold; i++ {
		c.record("chatty", 0.9, 0.9)
	}
	profile, _ := reg.Profile("chatty")
	promoted := profile.BaseReliability
	assert.InDelta(t, 0.9, promoted, 1e-9)

	// The learned average keeps moving, the registry does not
	for i := 0; i < promotionThreshold; i++ {
		c.record("chatty", 0.5, 0.5)
	}
	assert.Less(t, c.Info("chatty").AverageAccuracy(), promoted)
	profile, _ = reg.Profile("chatty")
	assert.Equal(t, promoted, profile.BaseReliability)
}

func TestEnsembleBoostByStrategy(t *testing.T) {
	c := New(testRegistry(t), nil)

	tests := []struct {
		strategy models.FusionStrategy
		want     float64
	}{
		{models.StrategySelectiveBest, 1.00},
		{models.StrategyIntelligentWeighting, 1.05},
		{models.StrategyConsensusBased, 1.10},
		{models.StrategyQualityAveraging, 1.02},
		{models.StrategyHierarchicalMerging, 1.03},
		{"", 1.0},
	}
	for _, tt := range tests {
		got := c.ensembleBoost(models.CalibrationContext{EnsembleStrategy: tt.strategy})
		assert.InDelta(t, tt.want, got, 1e-9, "strategy %q", tt.strategy)
	}
}

func TestEnsembleBoostDiversityCapped(t *testing.T) {
	c := New(testRegistry(t), nil)

	two := c.ensembleBoost(models.CalibrationContext{
		EnsembleStrategy:   models.StrategySelectiveBest,
		ContributingModels: []string{"a", "b"},
	})
	assert.InDelta(t, 1.02, two, 1e-9)

	many := c.ensembleBoost(models.CalibrationContext{
		EnsembleStrategy:   models.StrategySelectiveBest,
		ContributingModels: []string{"a", "b", "c", "d", "e", "f", "g"},
	})
	assert.InDelta(t, 1.06, many, 1e-9)
}

func TestContextFactor(t *testing.T) {
	c := New(testRegistry(t), nil)

	assert.InDelta(t, 1.0, c.contextFactor("chatty", models.CalibrationContext{}), 1e-9)

	deep := c.contextFactor("chatty", models.CalibrationContext{ConversationTurns: 25})
	assert.InDelta(t, 1.10, deep, 1e-9)

	familiar := c.contextFactor("chatty", models.CalibrationContext{TopicFamiliarity: 1})
	assert.InDelta(t, 1.10, familiar, 1e-9)

	hard := c.contextFactor("chatty", models.CalibrationContext{Complexity: models.ComplexityHigh})
	assert.InDelta(t, 0.95, hard, 1e-9)

	easy := c.contextFactor("chatty", models.CalibrationContext{Complexity: models.ComplexityLow})
	assert.InDelta(t, 1.02, easy, 1e-9)
}

func TestContentFactorDirections(t *testing.T) {
	c := New(testRegistry(t), nil)
	moderate := strings.Repeat("a plain declarative sentence about nothing remarkable. ", 2)

	neutral := c.contentFactor("chatty", moderate)
	hedged := c.contentFactor("chatty", moderate+" I think it might be correct, but I'm not sure.")
	confident := c.contentFactor("chatty", moderate+" The answer is seven; in fact this means it converges.")
	tiny := c.contentFactor("chatty", "short")
	huge := c.contentFactor("chatty", strings.Repeat("x", 4001))

	assert.Less(t, hedged, neutral)
	assert.Greater(t, confident, neutral)
	assert.Less(t, tiny, neutral)
	assert.Less(t, huge, neutral)
}

func TestContentFactorCodeSpecialistBonus(t *testing.T) {
	c := New(testRegistry(t), nil)
	code := "```go\nfunc add(a, b int) int { return a + b }\n```" + strings.Repeat(" padding", 10)

	specialist := c.contentFactor("coder", code)
	generalist := c.contentFactor("chatty", code)
	assert.Greater(t, specialist, generalist)
}

func TestPhraseFactorCapsAtThreeHits(t *testing.T) {
	lower := "i think it might be, possibly, perhaps, i guess, not sure"
	got := phraseFactor(lower, hedgingPhrases, 0.95)
	assert.InDelta(t, 0.95*0.95*0.95, got, 1e-9)
}

func TestBiasCorrectNeedsSamples(t *testing.T) {
	c := New(testRegistry(t), nil)

	assert.InDelta(t, 0.8, c.biasCorrect("chatty", 0.8), 1e-9)

	c.Preload("chatty", models.ModelCalibrationInfo{
		SampleCount:   biasCorrectionSamples,
		ConfidenceSum: 0.8 * biasCorrectionSamples,
		ErrorSum:      0.1 * biasCorrectionSamples,
	})
	// (0.8 - 0.1) * (1 - 0.1)
	assert.InDelta(t, 0.63, c.biasCorrect("chatty", 0.8), 1e-9)
}

func TestSinkReceivesEveryObservation(t *testing.T) {
	sink := &recordingSink{}
	c := New(testRegistry(t), sink)

	c.Calibrate(0.8, "some answer text that is long enough", "chatty", models.CalibrationContext{})
	c.Calibrate(0.6, "another answer text that is long enough", "chatty", models.CalibrationContext{})

	require.Len(t, sink.records, 2)
	assert.Equal(t, "chatty", sink.records[0].Model)
	assert.Equal(t, 0.8, sink.records[0].RawConfidence)
	total := sink.records[0].CalibratedConfidence + sink.records[1].CalibratedConfidence
	assert.InDelta(t, total, c.Info("chatty").ConfidenceSum, 1e-9)
}

func TestInfoTracksTotals(t *testing.T) {
	c := New(testRegistry(t), nil)
	assert.Zero(t, c.Info("chatty").SampleCount)

	c.Calibrate(0.9, "an answer of reasonable length for testing", "chatty", models.CalibrationContext{})
	info := c.Info("chatty")
	assert.EqualValues(t, 1, info.SampleCount)
	assert.Greater(t, info.ConfidenceSum, 0.0)
}
