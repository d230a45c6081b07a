package analyzer

import (
	"strings"

	"github.com/mindfuse/ensemble-engine/internal/models"
)

// Classifier assigns a query type to a prompt. Implementations are
// best-effort by contract: downstream routing must tolerate
// misclassification, so a Classifier never errors.
type Classifier interface {
	Classify(prompt string, history []string) models.QueryType
}

// minKeywordMatches is the floor below which classification falls back to
// conversational.
const minKeywordMatches = 2

// typeKeywords maps each query type to its indicator keyword set. Matching is
// lowercase substring matching over prompt plus recent context.
var typeKeywords = map[models.QueryType][]string{
	models.QueryTypeCoding: {
		"code", "function", "implement", "class ", "method", "compile",
		"refactor", "script", "api", "library", "syntax", "program",
	},
	models.QueryTypeDebugging: {
		"bug", "error", "fix", "debug", "crash", "exception", "traceback",
		"stack trace", "broken", "fails", "panic",
	},
	models.QueryTypeCreative: {
		"story", "poem", "write a", "creative", "imagine", "fiction",
		"brainstorm", "lyrics", "slogan",
	},
	models.QueryTypeAnalysis: {
		"analyze", "analysis", "compare", "evaluate", "assess", "summarize",
		"breakdown", "pros and cons", "trade-off",
	},
	models.QueryTypeFactual: {
		"what is", "who is", "when did", "where is", "define", "list",
		"how many", "fact",
	},
	models.QueryTypeReasoning: {
		"why", "reason", "logic", "deduce", "prove", "step by step",
		"think through", "derive",
	},
	models.QueryTypeTechnical: {
		"architecture", "design pattern", "protocol", "infrastructure",
		"database", "deployment", "kernel", "configure", "benchmark",
	},
	models.QueryTypeResearch: {
		"research", "survey", "literature", "sources", "cite", "study",
		"investigate", "state of the art",
	},
	models.QueryTypeSpeed: {
		"quick", "quickly", "short answer", "tldr", "tl;dr", "briefly",
		"one line",
	},
	models.QueryTypeEmbedding: {
		"embedding", "similarity", "vector", "semantic search", "nearest neighbor",
	},
}

// KeywordClassifier is the default heuristic classifier: it counts keyword
// matches per type and picks the type with the most matches above the
// minimum-match threshold.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the stock keyword-matching classifier
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify implements Classifier
func (kc *KeywordClassifier) Classify(prompt string, history []string) models.QueryType {
	text := strings.ToLower(prompt)
	// Recent context disambiguates short follow-ups ("and now fix it")
	if n := len(history); n > 0 {
		start := n - 2
		if start < 0 {
			start = 0
		}
		text += " " + strings.ToLower(strings.Join(history[start:], " "))
	}

	best := models.QueryTypeConversational
	bestMatches := 0
	for _, qt := range models.AllQueryTypes {
		keywords, ok := typeKeywords[qt]
		if !ok {
			continue
		}
		matches := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
		if matches > bestMatches || (matches == bestMatches && matches > 0 && qt < best) {
			best = qt
			bestMatches = matches
		}
	}

	if bestMatches < minKeywordMatches {
		return models.QueryTypeConversational
	}
	return best
}
