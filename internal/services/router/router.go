package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/adaptive"
	"github.com/mindfuse/ensemble-engine/internal/services/circuitbreaker"
	"github.com/mindfuse/ensemble-engine/internal/services/performance"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Resource multipliers. A model whose footprint exceeds available memory is
// heavily penalized rather than excluded, so it can still win when nothing
// cheaper is viable.
const (
	memoryPressurePenalty = 0.3
	cheapModelBoost       = 1.1
	highLoadThreshold     = 0.8
	cheapModelCostGB      = 4
)

// Router combines the specialization table, performance tracker, adaptive
// overlay, and resource adjustments into a score per candidate and selects
// deterministically.
type Router struct {
	registry *registry.Registry
	tracker  *performance.Tracker
	overlay  *adaptive.Overlay
	breakers map[string]circuitbreaker.Breaker
	cache    *DecisionCache
}

// New wires a router. Breakers and cache are optional.
func New(
	reg *registry.Registry,
	tracker *performance.Tracker,
	overlay *adaptive.Overlay,
	breakers map[string]circuitbreaker.Breaker,
	cache *DecisionCache,
) *Router {
	return &Router{
		registry: reg,
		tracker:  tracker,
		overlay:  overlay,
		breakers: breakers,
		cache:    cache,
	}
}

// ScoredModel pairs a candidate with its routing score
type ScoredModel struct {
	Name           string
	Score          float64
	ResourceCostGB int
}

// Route scores the candidates and returns a routing decision. A pinned model
// bypasses scoring but the decision still records what scoring would have
// selected. Returns models.ErrNoModelAvailable when no candidate is usable.
func (r *Router) Route(
	ctx context.Context,
	prompt string,
	analysis models.PromptAnalysis,
	candidates []string,
	pinned string,
	requestID string,
) (models.RoutingDecision, error) {
	start := time.Now()

	if len(candidates) == 0 {
		candidates = r.registry.Candidates()
	}

	if r.cache != nil && pinned == "" {
		if decision, source, found := r.cache.Lookup(ctx, prompt, requestID); found {
			fiberlog.Infof("[%s] Router: decision cache hit (%s): %s", requestID, source, decision.SelectedModel)
			return *decision, nil
		}
	}

	scored := r.scoreCandidates(analysis, candidates, requestID)
	if len(scored) == 0 {
		fiberlog.Errorf("[%s] Router: no usable candidate among %d models", requestID, len(candidates))
		return models.RoutingDecision{}, models.NewNoModelAvailableError(
			fmt.Sprintf("no usable candidate among %d models", len(candidates)))
	}

	winner := scored[0]
	selected := winner.Name
	rationale := r.buildRationale(analysis, winner, scored)

	if pinned != "" {
		if _, ok := r.registry.Profile(pinned); !ok {
			return models.RoutingDecision{}, models.NewNoModelAvailableError(
				fmt.Sprintf("pinned model %q is not in the catalog", pinned))
		}
		rationale = fmt.Sprintf("pinned by caller (scoring would have selected %s)", winner.Name)
		selected = pinned
	}

	alternatives := make([]string, 0, len(scored)-1)
	for _, s := range scored[1:] {
		alternatives = append(alternatives, s.Name)
	}

	decision := models.RoutingDecision{
		RequestedModel: pinned,
		SelectedModel:  selected,
		Rationale:      rationale,
		Confidence:     decisionConfidence(scored),
		Alternatives:   alternatives,
		Timestamp:      time.Now(),
	}

	fiberlog.Infof("[%s] Router: selected %s for %s/%s in %v (confidence %.2f)",
		requestID, decision.SelectedModel, analysis.QueryType, analysis.Complexity,
		time.Since(start), decision.Confidence)

	if r.cache != nil && pinned == "" {
		r.cache.StoreAsync(ctx, prompt, decision, requestID)
	}

	return decision, nil
}

// TopK returns the k best-scoring distinct candidates for ensemble dispatch
func (r *Router) TopK(analysis models.PromptAnalysis, candidates []string, k int, requestID string) []ScoredModel {
	if len(candidates) == 0 {
		candidates = r.registry.Candidates()
	}
	scored := r.scoreCandidates(analysis, candidates, requestID)
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// Score computes the routing score for a single model. Unknown factors are
// neutral 1.0; the result is clamped at 0 and never NaN.
func (r *Router) Score(model string, analysis models.PromptAnalysis) float64 {
	profile, ok := r.registry.Profile(model)
	if !ok {
		return 0
	}

	score := profile.SpecializationFor(analysis.QueryType)
	score *= profile.ComplexityMultiplier(analysis.Complexity)
	score *= r.successRateFactor(model)
	score *= profile.WorkspaceMultiplier(analysis.WorkspaceType)
	score *= r.resourceMultiplier(&profile)
	score *= r.overlay.Boost(model, analysis.QueryType)

	if score < 0 || score != score { // clamp negatives and NaN
		score = 0
	}
	return score
}

func (r *Router) scoreCandidates(analysis models.PromptAnalysis, candidates []string, requestID string) []ScoredModel {
	scored := make([]ScoredModel, 0, len(candidates))
	for _, name := range candidates {
		profile, ok := r.registry.Profile(name)
		if !ok {
			fiberlog.Warnf("[%s] Router: skipping unknown candidate %q", requestID, name)
			continue
		}
		if !r.providerAvailable(profile.Provider) {
			fiberlog.Warnf("[%s] Router: skipping %s (circuit breaker open for provider %s)",
				requestID, name, profile.Provider)
			continue
		}
		scored = append(scored, ScoredModel{
			Name:           name,
			Score:          r.Score(name, analysis),
			ResourceCostGB: profile.ResourceCostGB,
		})
	}

	// Deterministic ordering: score desc, then resource cost asc, then name
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].ResourceCostGB != scored[j].ResourceCostGB {
			return scored[i].ResourceCostGB < scored[j].ResourceCostGB
		}
		return scored[i].Name < scored[j].Name
	})
	return scored
}

// successRateFactor reads the tracker's recent success rate, neutral 1.0 for
// models with no recorded inferences.
func (r *Router) successRateFactor(model string) float64 {
	snapshot := r.tracker.Snapshot(model)
	if snapshot.TotalInferences == 0 {
		return 1.0
	}
	return snapshot.RecentSuccessRate
}

func (r *Router) resourceMultiplier(profile *models.ModelProfile) float64 {
	state := r.registry.SystemState()
	multiplier := 1.0
	if state.AvailableMemoryGB > 0 && float64(profile.ResourceCostGB) > state.AvailableMemoryGB {
		multiplier *= memoryPressurePenalty
	}
	if state.LoadFactor > highLoadThreshold && profile.ResourceCostGB <= cheapModelCostGB {
		multiplier *= cheapModelBoost
	}
	return multiplier
}

func (r *Router) providerAvailable(provider string) bool {
	if r.breakers == nil {
		return true
	}
	cb, exists := r.breakers[provider]
	return !exists || cb.CanExecute()
}

func (r *Router) buildRationale(analysis models.PromptAnalysis, winner ScoredModel, scored []ScoredModel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %.3f for %s/%s", winner.Name, winner.Score, analysis.QueryType, analysis.Complexity)

	if preferred, ok := r.overlay.Preferred(analysis.QueryType); ok && preferred == winner.Name {
		b.WriteString(", boosted by adaptive preference")
	}
	snapshot := r.tracker.Snapshot(winner.Name)
	if snapshot.TotalInferences > 0 {
		fmt.Fprintf(&b, ", recent success rate %.2f over %d inferences",
			snapshot.RecentSuccessRate, snapshot.TotalInferences)
	}
	if len(scored) > 1 {
		fmt.Fprintf(&b, "; runner-up %s at %.3f", scored[1].Name, scored[1].Score)
	}
	return b.String()
}

// decisionConfidence derives a confidence from the winner's margin over the
// runner-up, clamped to [0.1, 0.99].
func decisionConfidence(scored []ScoredModel) float64 {
	if len(scored) == 0 {
		return 0.1
	}
	if len(scored) == 1 || scored[0].Score == 0 {
		return 0.5
	}
	margin := (scored[0].Score - scored[1].Score) / scored[0].Score
	confidence := 0.5 + margin/2
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 0.99 {
		confidence = 0.99
	}
	return confidence
}
