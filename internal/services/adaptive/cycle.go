package adaptive

import (
	"context"
	"sync"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/history"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// minSamplesPerType is the floor below which a query type keeps no preference
const minSamplesPerType = 3

// LearningCycle periodically re-derives the overlay from routing history. It
// reads a snapshot of the log on a fixed interval and never blocks foreground
// routing; skipped or delayed cycles only delay the nudge, never correctness.
type LearningCycle struct {
	overlay  *Overlay
	log      *history.Log
	window   int
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewLearningCycle builds a cycle over the given history window
func NewLearningCycle(overlay *Overlay, log *history.Log, window int, interval time.Duration) *LearningCycle {
	if interval == 0 {
		interval = 2 * time.Minute
	}
	if window <= 0 {
		window = models.DefaultLearningWindow
	}
	return &LearningCycle{
		overlay:  overlay,
		log:      log,
		window:   window,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the cycle until Stop is called or the context is cancelled
func (c *LearningCycle) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	fiberlog.Infof("LearningCycle: started, running every %s over a window of %d records", c.interval, c.window)

	for {
		select {
		case <-ticker.C:
			c.RunOnce()
		case <-c.stopChan:
			fiberlog.Info("LearningCycle: stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("LearningCycle: stopped due to context cancellation")
			return
		}
	}
}

// Stop terminates the cycle. Safe to call more than once.
func (c *LearningCycle) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// RunOnce recomputes the per-query-type preferred model from the most recent
// window of routing history. Exported so tests and the engine can force a
// learning pass without waiting on the ticker.
func (c *LearningCycle) RunOnce() {
	records := c.log.RecentRouting(c.window)
	if len(records) == 0 {
		return
	}

	type agg struct {
		sum   float64
		count int
	}
	byTypeModel := make(map[models.QueryType]map[string]*agg)

	for _, rec := range records {
		if !rec.Success || rec.Decision.SelectedModel == "" {
			continue
		}
		byModel, ok := byTypeModel[rec.QueryType]
		if !ok {
			byModel = make(map[string]*agg)
			byTypeModel[rec.QueryType] = byModel
		}
		a, ok := byModel[rec.Decision.SelectedModel]
		if !ok {
			a = &agg{}
			byModel[rec.Decision.SelectedModel] = a
		}
		a.sum += rec.FinalConfidence
		a.count++
	}

	preferred := make(map[models.QueryType]string, len(byTypeModel))
	for qt, byModel := range byTypeModel {
		bestModel := ""
		bestAvg := 0.0
		for model, a := range byModel {
			if a.count < minSamplesPerType {
				continue
			}
			avg := a.sum / float64(a.count)
			if avg > bestAvg || (avg == bestAvg && bestModel != "" && model < bestModel) {
				bestModel = model
				bestAvg = avg
			}
		}
		if bestModel != "" {
			preferred[qt] = bestModel
			fiberlog.Debugf("LearningCycle: %s prefers %s (avg confidence %.3f)", qt, bestModel, bestAvg)
		}
	}

	c.overlay.Replace(preferred)
	fiberlog.Infof("LearningCycle: overlay updated from %d records, %d query types with preferences",
		len(records), len(preferred))
}
