package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Registry owns the model catalog: static specialization tables, complexity
// multipliers, resource costs, and base reliability per model. Profiles are
// loaded once at startup; the only runtime mutation is SetBaseReliability,
// called by calibration promotion.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*models.ModelProfile

	stateMu sync.RWMutex
	state   models.SystemState
}

// New builds a registry from catalog profiles. Profiles without a name are
// rejected; affinity scores outside [0,1] are clamped.
func New(catalog []models.ModelProfile, state models.SystemState) (*Registry, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	profiles := make(map[string]*models.ModelProfile, len(catalog))
	for i := range catalog {
		p := catalog[i]
		if p.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		for qt, v := range p.Specialization {
			p.Specialization[qt] = clamp01(v)
		}
		if p.BaseReliability <= 0 {
			p.BaseReliability = 0.7
		}
		profiles[p.Name] = &p
	}

	fiberlog.Infof("Registry: loaded %d model profiles", len(profiles))
	return &Registry{profiles: profiles, state: state}, nil
}

// Profile returns a copy of the named profile
func (r *Registry) Profile(name string) (models.ModelProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return models.ModelProfile{}, false
	}
	return *p, true
}

// Candidates returns all model names in deterministic (lexicographic) order
func (r *Registry) Candidates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetBaseReliability overwrites a model's base reliability with a learned
// value. This is the single mutation path into static configuration, used by
// calibration promotion once a model's sample count crosses the threshold.
func (r *Registry) SetBaseReliability(name string, reliability float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[name]
	if !ok {
		return false
	}
	p.BaseReliability = clamp01(reliability)
	fiberlog.Infof("Registry: promoted learned reliability %.3f for model %s", p.BaseReliability, name)
	return true
}

// SystemState returns the current resource snapshot
func (r *Registry) SystemState() models.SystemState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// UpdateSystemState replaces the resource snapshot. The host application
// calls this from its own monitoring; tests use it to simulate pressure.
func (r *Registry) UpdateSystemState(state models.SystemState) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = state
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
