package models

// QualityWeights are the composite weights for per-response quality analysis.
// They are configurable defaults rather than tuned constants; Normalized()
// rescales them so the composite stays in [0,1] even after overrides.
type QualityWeights struct {
	ContentQuality  float64 `json:"content_quality" yaml:"content_quality"`
	FactualAccuracy float64 `json:"factual_accuracy" yaml:"factual_accuracy"`
	Relevance       float64 `json:"relevance" yaml:"relevance"`
	Coherence       float64 `json:"coherence" yaml:"coherence"`
	Reliability     float64 `json:"reliability" yaml:"reliability"`
}

// DefaultQualityWeights returns the stock 0.25/0.25/0.25/0.15/0.10 split
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		ContentQuality:  0.25,
		FactualAccuracy: 0.25,
		Relevance:       0.25,
		Coherence:       0.15,
		Reliability:     0.10,
	}
}

// Normalized returns the weights rescaled to sum to 1. A zero-sum set of
// weights falls back to the defaults.
func (w QualityWeights) Normalized() QualityWeights {
	sum := w.ContentQuality + w.FactualAccuracy + w.Relevance + w.Coherence + w.Reliability
	if sum <= 0 {
		return DefaultQualityWeights()
	}
	return QualityWeights{
		ContentQuality:  w.ContentQuality / sum,
		FactualAccuracy: w.FactualAccuracy / sum,
		Relevance:       w.Relevance / sum,
		Coherence:       w.Coherence / sum,
		Reliability:     w.Reliability / sum,
	}
}

// EngineConfig holds the routing/fusion/calibration engine configuration
type EngineConfig struct {
	FallbackModel          string         `json:"fallback_model,omitzero" yaml:"fallback_model"`
	MaxConcurrentInference int64          `json:"max_concurrent_inference,omitzero" yaml:"max_concurrent_inference"`
	DefaultStrategy        FusionStrategy `json:"default_strategy,omitzero" yaml:"default_strategy"`
	MinFusedLength         int            `json:"min_fused_length,omitzero" yaml:"min_fused_length"`
	HistoryCapacity        int            `json:"history_capacity,omitzero" yaml:"history_capacity"`
	LearningIntervalMs     int            `json:"learning_interval_ms,omitzero" yaml:"learning_interval_ms"`
	LearningWindow         int            `json:"learning_window,omitzero" yaml:"learning_window"`
	AdaptiveBoost          float64        `json:"adaptive_boost,omitzero" yaml:"adaptive_boost"`
	QualityWeights         QualityWeights `json:"quality_weights,omitzero" yaml:"quality_weights,omitempty"`
	System                 SystemState    `json:"system,omitzero" yaml:"system,omitempty"`
}

// Engine defaults applied when the YAML omits a field
const (
	DefaultMaxConcurrentInference = 3
	DefaultMinFusedLength         = 50
	DefaultHistoryCapacity        = 1000
	DefaultLearningIntervalMs     = 120_000
	DefaultLearningWindow         = 200
	DefaultAdaptiveBoost          = 1.15
)

// WithDefaults fills unset engine fields with their defaults
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.MaxConcurrentInference <= 0 {
		c.MaxConcurrentInference = DefaultMaxConcurrentInference
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategyIntelligentWeighting
	}
	if c.MinFusedLength <= 0 {
		c.MinFusedLength = DefaultMinFusedLength
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = DefaultHistoryCapacity
	}
	if c.LearningIntervalMs <= 0 {
		c.LearningIntervalMs = DefaultLearningIntervalMs
	}
	if c.LearningWindow <= 0 {
		c.LearningWindow = DefaultLearningWindow
	}
	if c.AdaptiveBoost <= 0 {
		c.AdaptiveBoost = DefaultAdaptiveBoost
	}
	c.QualityWeights = c.QualityWeights.Normalized()
	return c
}
