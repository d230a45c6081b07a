package models

import "time"

// InferenceRequest is the caller-facing request for a routed inference.
// EnsembleSize <= 1 routes to a single model and skips fusion entirely.
// PinnedModel bypasses routing (the decision still records what scoring
// would have chosen).
type InferenceRequest struct {
	Prompt        string           `json:"prompt"`
	Context       []string         `json:"context,omitzero"` // prior conversation turns
	WorkspaceHint string           `json:"workspace_hint,omitzero"`
	EnsembleSize  int              `json:"ensemble_size,omitzero"`
	PinnedModel   string           `json:"pinned_model,omitzero"`
	Strategy      FusionStrategy   `json:"strategy,omitzero"`
	Params        *InferenceParams `json:"params,omitzero"`
	Stream        bool             `json:"stream,omitzero"`
}

// InferenceResult is the caller-facing result: one answer with a calibrated
// confidence, regardless of how many backends were consulted.
type InferenceResult struct {
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	ModelsUsed []string       `json:"models_used"`
	Rationale  string         `json:"rationale"`
	Strategy   FusionStrategy `json:"strategy,omitzero"`
	Fallback   bool           `json:"fallback,omitzero"`
	Latency    time.Duration  `json:"latency"`
}

// TokenChunk is one unit of token-incremental delivery
type TokenChunk struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	Done  bool   `json:"done,omitzero"`
}
