package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/mindfuse/ensemble-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routingRecord(model string, confidence float64) models.RoutingRecord {
	return models.RoutingRecord{
		Decision:        models.RoutingDecision{SelectedModel: model},
		QueryType:       models.QueryTypeCoding,
		Success:         true,
		FinalConfidence: confidence,
	}
}

func TestAppendAndRecent(t *testing.T) {
	log := NewLog(100, nil)
	for i := 0; i < 5; i++ {
		log.AppendRouting(routingRecord(fmt.Sprintf("m%d", i), 0.5))
	}

	recent := log.RecentRouting(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "m2", recent[0].Decision.SelectedModel)
	assert.Equal(t, "m4", recent[2].Decision.SelectedModel)

	all := log.RecentRouting(0)
	assert.Len(t, all, 5)
}

func TestTrimsOldestInBatches(t *testing.T) {
	log := NewLog(100, nil)
	for i := 0; i < 100; i++ {
		log.AppendRouting(routingRecord("m", float64(i)))
	}
	require.Equal(t, 100, log.RoutingLen())

	// One more append trims a batch of capacity/10, then appends
	log.AppendRouting(routingRecord("new", 1.0))
	assert.Equal(t, 91, log.RoutingLen())

	oldest := log.RecentRouting(0)[0]
	assert.Equal(t, 10.0, oldest.FinalConfidence)
}

func TestMinimumCapacity(t *testing.T) {
	log := NewLog(1, nil)
	for i := 0; i < 20; i++ {
		log.AppendRouting(routingRecord("m", float64(i)))
	}
	assert.LessOrEqual(t, log.RoutingLen(), 10)
}

func TestFusionLog(t *testing.T) {
	log := NewLog(100, nil)
	log.AppendFusion(models.FusionRecord{Strategy: models.StrategySelectiveBest, Confidence: 0.8})

	recent := log.RecentFusion(0)
	require.Len(t, recent, 1)
	assert.Equal(t, models.StrategySelectiveBest, recent[0].Strategy)
}

type recordingSink struct {
	mu      sync.Mutex
	routing int
	fusion  int
}

func (s *recordingSink) StoreRoutingRecord(models.RoutingRecord) {
	s.mu.Lock()
	s.routing++
	s.mu.Unlock()
}

func (s *recordingSink) StoreFusionRecord(models.FusionRecord) {
	s.mu.Lock()
	s.fusion++
	s.mu.Unlock()
}

func TestSinkReceivesAppends(t *testing.T) {
	sink := &recordingSink{}
	log := NewLog(100, sink)

	log.AppendRouting(routingRecord("m", 0.5))
	log.AppendFusion(models.FusionRecord{})

	assert.Equal(t, 1, sink.routing)
	assert.Equal(t, 1, sink.fusion)
}

func TestPreload(t *testing.T) {
	log := NewLog(10, nil)

	var routing []models.RoutingRecord
	for i := 0; i < 25; i++ {
		routing = append(routing, routingRecord("m", float64(i)))
	}
	log.Preload(routing, nil)

	require.Equal(t, 10, log.RoutingLen())
	assert.Equal(t, 24.0, log.RecentRouting(1)[0].FinalConfidence)
}
