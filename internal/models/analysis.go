package models

import "time"

// QueryType categorizes what kind of work a prompt is asking for
type QueryType string

const (
	QueryTypeCoding         QueryType = "coding"
	QueryTypeCreative       QueryType = "creative"
	QueryTypeAnalysis       QueryType = "analysis"
	QueryTypeFactual        QueryType = "factual"
	QueryTypeReasoning      QueryType = "reasoning"
	QueryTypeTechnical      QueryType = "technical"
	QueryTypeDebugging      QueryType = "debugging"
	QueryTypeConversational QueryType = "conversational"
	QueryTypeResearch       QueryType = "research"
	QueryTypeSpeed          QueryType = "speed"
	QueryTypeEmbedding      QueryType = "embedding"
)

// AllQueryTypes lists every known query type, used for catalog validation
var AllQueryTypes = []QueryType{
	QueryTypeCoding, QueryTypeCreative, QueryTypeAnalysis, QueryTypeFactual,
	QueryTypeReasoning, QueryTypeTechnical, QueryTypeDebugging,
	QueryTypeConversational, QueryTypeResearch, QueryTypeSpeed, QueryTypeEmbedding,
}

// Complexity is the estimated effort tier for a prompt
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// PromptAnalysis is the immutable per-request classification of a prompt.
// It is a pure function of (prompt, conversation context, workspace hint);
// downstream components must tolerate misclassification gracefully.
type PromptAnalysis struct {
	QueryType            QueryType  `json:"query_type"`
	Complexity           Complexity `json:"complexity"`
	RequiredCapabilities []string   `json:"required_capabilities,omitzero"`
	PromptLength         int        `json:"prompt_length"`
	WorkspaceType        string     `json:"workspace_type,omitzero"`
	TokenBudget          int        `json:"token_budget"`
	Timestamp            time.Time  `json:"timestamp"`
}
