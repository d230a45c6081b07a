package models

import "time"

// ModelResponse is one backend invocation's output, as returned by the
// dispatcher. Fallback is set when the primary provider failed and the
// designated fallback model answered instead.
type ModelResponse struct {
	Model          string        `json:"model"`
	Text           string        `json:"text"`
	RawConfidence  float64       `json:"raw_confidence"`
	TokenCount     int           `json:"token_count"`
	Latency        time.Duration `json:"latency"`
	Fallback       bool          `json:"fallback,omitzero"`
	FallbackReason string        `json:"fallback_reason,omitzero"`
	Timestamp      time.Time     `json:"timestamp"`
}

// ResponseAnalysis holds per-response quality sub-scores, each in [0,1].
// Derived inside the fusion engine and not persisted beyond the fusion call.
type ResponseAnalysis struct {
	Response        ModelResponse `json:"response"`
	ContentQuality  float64       `json:"content_quality"`
	FactualAccuracy float64       `json:"factual_accuracy"`
	Relevance       float64       `json:"relevance"`
	Coherence       float64       `json:"coherence"`
	Reliability     float64       `json:"reliability"`
	OverallQuality  float64       `json:"overall_quality"`
}

// FusionStrategy selects how multiple model responses are combined
type FusionStrategy string

const (
	StrategySelectiveBest        FusionStrategy = "selective_best"
	StrategyIntelligentWeighting FusionStrategy = "intelligent_weighting"
	StrategyConsensusBased       FusionStrategy = "consensus_based"
	StrategyQualityAveraging     FusionStrategy = "quality_averaging"
	StrategyHierarchicalMerging  FusionStrategy = "hierarchical_merging"
)

// EmptyFusionContent is the sentinel returned when fusion receives zero
// responses.
const EmptyFusionContent = "no responses available"

// FusedResponse is the single combined answer produced by the fusion engine.
// Invariants: Confidence in [0,1]; Content non-empty unless the input was
// empty, in which case Content is EmptyFusionContent.
type FusedResponse struct {
	Content            string         `json:"content"`
	Confidence         float64        `json:"confidence"`
	ContributingModels []string       `json:"contributing_models"`
	Strategy           FusionStrategy `json:"strategy"`
}
