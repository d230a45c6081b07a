package models

// InferenceParams are the sampling parameters passed to an inference provider.
// Zero values mean "use the provider default".
type InferenceParams struct {
	Temperature float64 `json:"temperature,omitzero" yaml:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitzero" yaml:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitzero" yaml:"max_tokens,omitempty"`
}

// ModelProfile describes a candidate backend: static affinity scores per
// query type and complexity tier, resource footprint, and base reliability.
// Loaded once at startup from the catalog; BaseReliability is the only field
// mutated at runtime (by calibration promotion).
type ModelProfile struct {
	Name                 string                 `json:"name" yaml:"name"`
	Provider             string                 `json:"provider" yaml:"provider"`
	Specialization       map[QueryType]float64  `json:"specialization" yaml:"specialization"`
	ComplexityAdjustment map[Complexity]float64 `json:"complexity_adjustment,omitzero" yaml:"complexity_adjustment,omitempty"`
	WorkspaceAffinity    map[string]float64     `json:"workspace_affinity,omitzero" yaml:"workspace_affinity,omitempty"`
	ResourceCostGB       int                    `json:"resource_cost_gb" yaml:"resource_cost_gb"`
	BaseReliability      float64                `json:"base_reliability" yaml:"base_reliability"`
	Parameters           InferenceParams        `json:"parameters,omitzero" yaml:"parameters,omitempty"`
}

// SpecializationFor returns the affinity score for a query type, neutral 1.0
// when the profile does not declare one.
func (p *ModelProfile) SpecializationFor(qt QueryType) float64 {
	if v, ok := p.Specialization[qt]; ok {
		return v
	}
	return 1.0
}

// ComplexityMultiplier returns the adjustment for a complexity tier, neutral
// 1.0 when unknown.
func (p *ModelProfile) ComplexityMultiplier(c Complexity) float64 {
	if v, ok := p.ComplexityAdjustment[c]; ok {
		return v
	}
	return 1.0
}

// WorkspaceMultiplier returns the affinity for a workspace type, neutral 1.0
// when unknown or unset.
func (p *ModelProfile) WorkspaceMultiplier(workspace string) float64 {
	if workspace == "" {
		return 1.0
	}
	if v, ok := p.WorkspaceAffinity[workspace]; ok {
		return v
	}
	return 1.0
}

// SystemState is a snapshot of host resource pressure consumed by the
// router's resource multiplier.
type SystemState struct {
	AvailableMemoryGB float64 `json:"available_memory_gb" yaml:"available_memory_gb"`
	LoadFactor        float64 `json:"load_factor" yaml:"load_factor"` // 0.0 idle .. 1.0 saturated
}
