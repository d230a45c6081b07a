package fusion

import (
	"context"
	"strings"

	"github.com/mindfuse/ensemble-engine/internal/models"

	"golang.org/x/sync/errgroup"
)

// Text heuristics are intentionally shallow. Quality analysis only needs to
// rank sibling responses to the same prompt, not judge absolute quality.
var (
	transitionWords = []string{
		"however", "therefore", "additionally", "furthermore", "consequently",
		"moreover", "first", "second", "finally", "because", "although",
		"instead", "specifically", "for example", "in contrast", "as a result",
	}
	hedgingPhrases = []string{
		"i think", "i believe", "might be", "may be", "not sure", "possibly",
		"perhaps", "i'm not certain", "it could be", "i guess",
	}
	confidentPhrases = []string{
		"is defined as", "the answer is", "this means", "specifically",
		"in fact", "always", "never", "must", "will",
	}
)

const (
	idealMinLength = 100
	idealMaxLength = 2000
)

// analyzeAll scores each response concurrently. Analysis is read-only with
// respect to shared state, so the goroutines need no locking.
func (e *Engine) analyzeAll(ctx context.Context, responses []models.ModelResponse, prompt string) ([]models.ResponseAnalysis, error) {
	analyses := make([]models.ResponseAnalysis, len(responses))
	g, _ := errgroup.WithContext(ctx)
	for i, resp := range responses {
		g.Go(func() error {
			analyses[i] = e.analyze(resp, prompt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (e *Engine) analyze(resp models.ModelResponse, prompt string) models.ResponseAnalysis {
	a := models.ResponseAnalysis{
		Response:        resp,
		ContentQuality:  scoreContentQuality(resp.Text),
		FactualAccuracy: scoreFactualSignals(resp.Text),
		Relevance:       scoreRelevance(resp.Text, prompt),
		Coherence:       scoreCoherence(resp.Text),
		Reliability:     e.modelReliability(resp.Model),
	}
	w := e.weights
	a.OverallQuality = w.ContentQuality*a.ContentQuality +
		w.FactualAccuracy*a.FactualAccuracy +
		w.Relevance*a.Relevance +
		w.Coherence*a.Coherence +
		w.Reliability*a.Reliability
	return a
}

func (e *Engine) modelReliability(model string) float64 {
	if profile, ok := e.registry.Profile(model); ok {
		return profile.BaseReliability
	}
	return 0.5
}

// scoreContentQuality rewards responses in a sane length band with visible
// structure (paragraphs, lists, code blocks).
func scoreContentQuality(text string) float64 {
	n := len(text)
	if n == 0 {
		return 0
	}

	var lengthScore float64
	switch {
	case n < idealMinLength:
		lengthScore = float64(n) / idealMinLength
	case n <= idealMaxLength:
		lengthScore = 1.0
	default:
		lengthScore = idealMaxLength / float64(n)
	}

	structureScore := 0.5
	if strings.Contains(text, "\n\n") {
		structureScore += 0.2
	}
	if strings.Contains(text, "\n-") || strings.Contains(text, "\n*") || strings.Contains(text, "\n1.") {
		structureScore += 0.15
	}
	if strings.Contains(text, "```") {
		structureScore += 0.15
	}
	if structureScore > 1 {
		structureScore = 1
	}

	return 0.6*lengthScore + 0.4*structureScore
}

// scoreFactualSignals reads phrasing as a proxy for factual grounding.
// Hedging lowers the score, definite statements raise it.
func scoreFactualSignals(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.7
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			score -= 0.05
		}
	}
	for _, phrase := range confidentPhrases {
		if strings.Contains(lower, phrase) {
			score += 0.03
		}
	}
	return clamp01(score)
}

// scoreRelevance measures keyword overlap between the prompt and the response
func scoreRelevance(text, prompt string) float64 {
	promptTokens := tokenSet(prompt)
	if len(promptTokens) == 0 {
		return 0.5
	}
	responseTokens := tokenSet(text)
	matched := 0
	for token := range promptTokens {
		if responseTokens[token] {
			matched++
		}
	}
	return clamp01(float64(matched) / float64(len(promptTokens)))
}

// scoreCoherence counts transition and connector words relative to length
func scoreCoherence(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, word := range transitionWords {
		if strings.Contains(lower, word) {
			hits++
		}
	}
	score := 0.4 + 0.1*float64(hits)
	return clamp01(score)
}

// jaccard computes token-set similarity between two texts
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]{}")
		if len(token) > 2 {
			set[token] = true
		}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
