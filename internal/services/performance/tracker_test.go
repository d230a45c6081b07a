package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotUntrackedModelIsZero(t *testing.T) {
	tracker := NewTracker()
	snap := tracker.Snapshot("never-seen")
	assert.Zero(t, snap.TotalInferences)
	assert.Zero(t, snap.RecentSuccessRate)
}

func TestRecordSeedsFirstObservation(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("m", true, 0.8, 2*time.Second)

	snap := tracker.Snapshot("m")
	assert.Equal(t, int64(1), snap.TotalInferences)
	assert.Equal(t, 0.8, snap.AverageConfidence)
	assert.Equal(t, 2.0, snap.AverageLatencySecs)
	assert.Equal(t, 1.0, snap.RecentSuccessRate)
}

func TestRecordAppliesEMA(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("m", true, 1.0, time.Second)
	tracker.Record("m", false, 0.0, time.Second)

	snap := tracker.Snapshot("m")
	assert.Equal(t, int64(2), snap.TotalInferences)
	assert.InDelta(t, 0.8, snap.RecentSuccessRate, 1e-9)
	assert.InDelta(t, 0.8, snap.AverageConfidence, 1e-9)
}

func TestRecentSuccessRateChasesFailures(t *testing.T) {
	tracker := NewTracker()
	tracker.Record("m", true, 0.9, time.Second)
	for i := 0; i < 20; i++ {
		tracker.Record("m", false, 0.1, time.Second)
	}

	snap := tracker.Snapshot("m")
	assert.Less(t, snap.RecentSuccessRate, 0.05)
}
