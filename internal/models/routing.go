package models

import "time"

// RoutingDecision records the outcome of a single routing call. Immutable
// once created. RequestedModel is set when the caller pinned a model; the
// decision still records what scoring would have selected for observability.
type RoutingDecision struct {
	RequestedModel string    `json:"requested_model,omitzero"`
	SelectedModel  string    `json:"selected_model"`
	Rationale      string    `json:"rationale"`
	Confidence     float64   `json:"confidence"`
	Alternatives   []string  `json:"alternatives,omitzero"`
	Timestamp      time.Time `json:"timestamp"`
}

// RoutingRecord is the append-only history entry for a routed request. Owned
// by the history log; consumed by the adaptive learning cycle.
type RoutingRecord struct {
	Decision        RoutingDecision `json:"decision"`
	QueryType       QueryType       `json:"query_type"`
	Success         bool            `json:"success"`
	FinalConfidence float64         `json:"final_confidence"`
	RoutingLatency  time.Duration   `json:"routing_latency"`
	Timestamp       time.Time       `json:"timestamp"`
}

// FusionRecord is the append-only history entry for a fusion call.
type FusionRecord struct {
	Strategy   FusionStrategy `json:"strategy"`
	Models     []string       `json:"models"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
}

// PerformanceSnapshot is a read-only view of a model's rolling metrics.
// Averages are exponential moving averages so recent behavior dominates.
type PerformanceSnapshot struct {
	TotalInferences    int64   `json:"total_inferences"`
	AverageConfidence  float64 `json:"average_confidence"`
	AverageLatencySecs float64 `json:"average_latency_seconds"`
	RecentSuccessRate  float64 `json:"recent_success_rate"`
}
