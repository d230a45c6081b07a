package adaptive

import (
	"sync"

	"github.com/mindfuse/ensemble-engine/internal/models"
)

// Overlay stores the learned preferred model per query type, applied as a
// multiplicative nudge on top of static routing scores. An empty overlay is
// valid: Boost returns a neutral 1.0 for everything.
type Overlay struct {
	mu        sync.RWMutex
	preferred map[models.QueryType]string
	boost     float64
}

// NewOverlay creates an empty overlay with the given boost factor
func NewOverlay(boost float64) *Overlay {
	if boost <= 0 {
		boost = models.DefaultAdaptiveBoost
	}
	return &Overlay{
		preferred: make(map[models.QueryType]string),
		boost:     boost,
	}
}

// Boost returns the multiplier for a (model, queryType) pair: the configured
// boost when the model is the learned preference for that type, else 1.0.
func (o *Overlay) Boost(model string, qt models.QueryType) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.preferred[qt] == model {
		return o.boost
	}
	return 1.0
}

// Preferred returns the learned preference for a query type, if any
func (o *Overlay) Preferred(qt models.QueryType) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	model, ok := o.preferred[qt]
	return model, ok
}

// Replace swaps in a freshly learned preference map
func (o *Overlay) Replace(preferred map[models.QueryType]string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preferred = preferred
}
