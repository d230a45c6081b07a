package performance

import (
	"sync"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// emaAlpha weights how fast the rolling metrics chase recent observations
const emaAlpha = 0.2

type modelMetrics struct {
	mu sync.Mutex

	totalInferences   int64
	averageConfidence float64
	averageLatency    float64 // seconds
	recentSuccessRate float64
	seeded            bool
}

// Tracker keeps per-model rolling metrics, updated after every completed
// inference. Writes are serialized per model; reads may lag a write by at
// most one update.
type Tracker struct {
	mu     sync.RWMutex
	models map[string]*modelMetrics
}

// NewTracker creates an empty performance tracker
func NewTracker() *Tracker {
	return &Tracker{models: make(map[string]*modelMetrics)}
}

func (t *Tracker) metricsFor(model string) *modelMetrics {
	t.mu.RLock()
	m, ok := t.models[model]
	t.mu.RUnlock()
	if ok {
		return m
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok = t.models[model]; ok {
		return m
	}
	m = &modelMetrics{}
	t.models[model] = m
	return m
}

// Record folds one completed inference into the model's rolling metrics
func (t *Tracker) Record(model string, success bool, confidence float64, latency time.Duration) {
	m := t.metricsFor(model)

	m.mu.Lock()
	defer m.mu.Unlock()

	successValue := 0.0
	if success {
		successValue = 1.0
	}
	latencySecs := latency.Seconds()

	if !m.seeded {
		m.averageConfidence = confidence
		m.averageLatency = latencySecs
		m.recentSuccessRate = successValue
		m.seeded = true
	} else {
		m.averageConfidence = ema(m.averageConfidence, confidence)
		m.averageLatency = ema(m.averageLatency, latencySecs)
		m.recentSuccessRate = ema(m.recentSuccessRate, successValue)
	}
	m.totalInferences++

	fiberlog.Debugf("Tracker: %s total=%d success_rate=%.3f avg_conf=%.3f avg_latency=%.2fs",
		model, m.totalInferences, m.recentSuccessRate, m.averageConfidence, m.averageLatency)
}

// Snapshot returns the model's metrics, or a zero snapshot when untracked.
// An untracked model reads as neutral: the router substitutes 1.0 for a zero
// success rate with no samples.
func (t *Tracker) Snapshot(model string) models.PerformanceSnapshot {
	t.mu.RLock()
	m, ok := t.models[model]
	t.mu.RUnlock()
	if !ok {
		return models.PerformanceSnapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return models.PerformanceSnapshot{
		TotalInferences:    m.totalInferences,
		AverageConfidence:  m.averageConfidence,
		AverageLatencySecs: m.averageLatency,
		RecentSuccessRate:  m.recentSuccessRate,
	}
}

func ema(current, observation float64) float64 {
	return current*(1-emaAlpha) + observation*emaAlpha
}
