package fusion

import (
	"context"
	"sort"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/bytebufferpool"
)

// consensusDamping keeps consensus-based confidence below raw agreement
const consensusDamping = 0.9

// floorConfidence is the minimum confidence after the short-content floor
// replaces fused content with the longest original response.
const floorConfidence = 0.7

// Engine combines multiple model responses into a single answer. All methods
// are safe for concurrent use; per-call state never escapes the call.
type Engine struct {
	registry  *registry.Registry
	weights   models.QualityWeights
	minLength int
}

func New(reg *registry.Registry, weights models.QualityWeights, minLength int) *Engine {
	if minLength <= 0 {
		minLength = models.DefaultMinFusedLength
	}
	return &Engine{registry: reg, weights: weights.Normalized(), minLength: minLength}
}

// Fuse combines responses under the given strategy. Zero responses yield the
// sentinel result with confidence 0; a single response passes through
// unchanged regardless of strategy.
func (e *Engine) Fuse(ctx context.Context, responses []models.ModelResponse, prompt string, strategy models.FusionStrategy, requestID string) models.FusedResponse {
	if len(responses) == 0 {
		fiberlog.Warnf("[%s] Fusion: no responses to fuse", requestID)
		return models.FusedResponse{
			Content:            models.EmptyFusionContent,
			Confidence:         0,
			ContributingModels: []string{},
			Strategy:           strategy,
		}
	}

	analyses, err := e.analyzeAll(ctx, responses, prompt)
	if err != nil {
		// analyzeAll goroutines never error; this only fires on a broken
		// errgroup context, in which case the first response stands in.
		fiberlog.Errorf("[%s] Fusion: analysis aborted: %v", requestID, err)
		return models.FusedResponse{
			Content:            responses[0].Text,
			Confidence:         responses[0].RawConfidence,
			ContributingModels: []string{responses[0].Model},
			Strategy:           strategy,
		}
	}

	if len(responses) == 1 {
		return e.validate(models.FusedResponse{
			Content:            responses[0].Text,
			Confidence:         analyses[0].OverallQuality,
			ContributingModels: []string{responses[0].Model},
			Strategy:           strategy,
		}, responses, requestID)
	}

	var fused models.FusedResponse
	switch strategy {
	case models.StrategySelectiveBest:
		fused = selectiveBest(analyses)
	case models.StrategyConsensusBased:
		fused = consensusBased(analyses)
	case models.StrategyQualityAveraging:
		fused = qualityAveraging(analyses)
	case models.StrategyHierarchicalMerging:
		fused = hierarchicalMerging(analyses)
	case models.StrategyIntelligentWeighting:
		fused = intelligentWeighting(analyses)
	default:
		fiberlog.Debugf("[%s] Fusion: unknown strategy %q, using intelligent weighting", requestID, strategy)
		fused = intelligentWeighting(analyses)
		strategy = models.StrategyIntelligentWeighting
	}
	fused.Strategy = strategy

	return e.validate(fused, responses, requestID)
}

// validate enforces the short-content floor. The fused answer is never
// skeletal compared to its inputs.
func (e *Engine) validate(fused models.FusedResponse, responses []models.ModelResponse, requestID string) models.FusedResponse {
	if len(fused.Content) >= e.minLength {
		return fused
	}
	longest := responses[0]
	for _, resp := range responses[1:] {
		if len(resp.Text) > len(longest.Text) {
			longest = resp
		}
	}
	if len(longest.Text) > len(fused.Content) {
		fiberlog.Debugf("[%s] Fusion: fused content below %d chars, substituting longest original from %s", requestID, e.minLength, longest.Model)
		fused.Content = longest.Text
		if fused.Confidence < floorConfidence {
			fused.Confidence = floorConfidence
		}
	}
	return fused
}

func best(analyses []models.ResponseAnalysis) models.ResponseAnalysis {
	top := analyses[0]
	for _, a := range analyses[1:] {
		if a.OverallQuality > top.OverallQuality {
			top = a
		}
	}
	return top
}

func contributors(analyses []models.ResponseAnalysis) []string {
	names := make([]string, len(analyses))
	for i, a := range analyses {
		names[i] = a.Response.Model
	}
	return names
}

// selectiveBest picks the single highest-quality response
func selectiveBest(analyses []models.ResponseAnalysis) models.FusedResponse {
	top := best(analyses)
	return models.FusedResponse{
		Content:            top.Response.Text,
		Confidence:         top.OverallQuality,
		ContributingModels: []string{top.Response.Model},
	}
}

// intelligentWeighting normalizes quality-times-reliability weights across
// responses. Content comes from the max-weight response; weighted content
// merging is a future extension.
func intelligentWeighting(analyses []models.ResponseAnalysis) models.FusedResponse {
	total := 0.0
	weights := make([]float64, len(analyses))
	for i, a := range analyses {
		weights[i] = a.OverallQuality * a.Reliability
		total += weights[i]
	}

	if total <= 0 {
		return selectiveBest(analyses)
	}

	confidence := 0.0
	maxIdx := 0
	for i, a := range analyses {
		w := weights[i] / total
		confidence += w * a.OverallQuality
		if weights[i] > weights[maxIdx] {
			maxIdx = i
		}
	}

	return models.FusedResponse{
		Content:            analyses[maxIdx].Response.Text,
		Confidence:         clamp01(confidence),
		ContributingModels: contributors(analyses),
	}
}

// consensusBased measures pairwise agreement across all responses
func consensusBased(analyses []models.ResponseAnalysis) models.FusedResponse {
	sum := 0.0
	pairs := 0
	for i := 0; i < len(analyses); i++ {
		for j := i + 1; j < len(analyses); j++ {
			sum += jaccard(analyses[i].Response.Text, analyses[j].Response.Text)
			pairs++
		}
	}
	consensus := 0.0
	if pairs > 0 {
		consensus = sum / float64(pairs)
	}

	top := best(analyses)
	return models.FusedResponse{
		Content:            top.Response.Text,
		Confidence:         clamp01(consensus * consensusDamping),
		ContributingModels: contributors(analyses),
	}
}

// qualityAveraging takes the mean quality as confidence
func qualityAveraging(analyses []models.ResponseAnalysis) models.FusedResponse {
	sum := 0.0
	for _, a := range analyses {
		sum += a.OverallQuality
	}
	top := best(analyses)
	return models.FusedResponse{
		Content:            top.Response.Text,
		Confidence:         clamp01(sum / float64(len(analyses))),
		ContributingModels: contributors(analyses),
	}
}

// hierarchicalMerging concatenates all responses ordered by quality, with
// rank-decreasing weights feeding a harmonic confidence.
func hierarchicalMerging(analyses []models.ResponseAnalysis) models.FusedResponse {
	sorted := make([]models.ResponseAnalysis, len(analyses))
	copy(sorted, analyses)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OverallQuality > sorted[j].OverallQuality
	})

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	weightSum := 0.0
	weightedInverse := 0.0
	for rank, a := range sorted {
		if rank > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(a.Response.Text)

		w := 1.0 / float64(rank+1)
		weightSum += w
		quality := a.OverallQuality
		if quality < 0.01 {
			quality = 0.01
		}
		weightedInverse += w / quality
	}

	confidence := 0.0
	if weightedInverse > 0 {
		confidence = weightSum / weightedInverse
	}

	return models.FusedResponse{
		Content:            buf.String(),
		Confidence:         clamp01(confidence),
		ContributingModels: contributors(sorted),
	}
}
