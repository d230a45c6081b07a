package analyzer

import (
	"strings"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Complexity thresholds. Derived from prompt length, sentence count, and the
// number of long tokens; deliberately coarse.
const (
	highLengthThreshold   = 500
	highSentenceThreshold = 5
	highLongTokens        = 3
	mediumLengthThreshold = 150
	mediumSentenceCount   = 2
	longTokenLength       = 12

	minTokenBudget = 256
	maxTokenBudget = 4096
)

// Analyzer classifies prompts into a PromptAnalysis. It is stateless; the
// Classifier strategy is pluggable so classification accuracy can improve
// without touching the router contract.
type Analyzer struct {
	classifier Classifier
}

// New creates an Analyzer with the given classifier, defaulting to the
// keyword classifier when nil.
func New(classifier Classifier) *Analyzer {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &Analyzer{classifier: classifier}
}

// Analyze classifies a prompt. Pure function of its inputs; never fails.
func (a *Analyzer) Analyze(prompt string, history []string, workspaceHint string) models.PromptAnalysis {
	analysis := models.PromptAnalysis{
		QueryType:            a.classifier.Classify(prompt, history),
		Complexity:           classifyComplexity(prompt),
		RequiredCapabilities: detectCapabilities(prompt),
		PromptLength:         len(prompt),
		WorkspaceType:        workspaceHint,
		TokenBudget:          estimateTokenBudget(prompt),
		Timestamp:            time.Now(),
	}

	fiberlog.Debugf("Analyzer: classified prompt (len=%d) as %s/%s, budget=%d",
		analysis.PromptLength, analysis.QueryType, analysis.Complexity, analysis.TokenBudget)
	return analysis
}

// classifyComplexity tiers a prompt by length, sentence count, and long-token
// count against fixed thresholds.
func classifyComplexity(prompt string) models.Complexity {
	sentences := countSentences(prompt)
	longTokens := 0
	for _, tok := range strings.Fields(prompt) {
		if len(tok) > longTokenLength {
			longTokens++
		}
	}

	switch {
	case len(prompt) > highLengthThreshold || sentences > highSentenceThreshold || longTokens >= highLongTokens:
		return models.ComplexityHigh
	case len(prompt) > mediumLengthThreshold || sentences > mediumSentenceCount:
		return models.ComplexityMedium
	default:
		return models.ComplexityLow
	}
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	return count
}

// detectCapabilities spots coarse capability requirements in the prompt text
func detectCapabilities(prompt string) []string {
	var caps []string
	lower := strings.ToLower(prompt)

	codeIndicators := []string{"```", "func ", "def ", "class ", "import ", "var ", "const "}
	for _, indicator := range codeIndicators {
		if strings.Contains(prompt, indicator) {
			caps = append(caps, "code")
			break
		}
	}

	mathIndicators := []string{"sqrt", "integral", "derivative", "equation", "theorem", "solve for"}
	for _, indicator := range mathIndicators {
		if strings.Contains(lower, indicator) {
			caps = append(caps, "math")
			break
		}
	}

	reasoningWords := []string{"why", "explain", "analyze", "compare", "evaluate", "reason"}
	for _, word := range reasoningWords {
		if strings.Contains(lower, word) {
			caps = append(caps, "reasoning")
			break
		}
	}

	return caps
}

// estimateTokenBudget uses the rough 4-chars-per-token heuristic, doubled for
// output headroom and clamped to a sane range.
func estimateTokenBudget(prompt string) int {
	budget := (len(prompt) / 4) * 2
	if budget < minTokenBudget {
		budget = minTokenBudget
	}
	if budget > maxTokenBudget {
		budget = maxTokenBudget
	}
	return budget
}
