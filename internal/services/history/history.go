package history

import (
	"sync"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Sink receives appended records for durable storage. Implementations must
// not block; the log calls them fire-and-forget.
type Sink interface {
	StoreRoutingRecord(models.RoutingRecord)
	StoreFusionRecord(models.FusionRecord)
}

// Log is a fixed-capacity FIFO of routing and fusion records. When a log
// fills up, the oldest entries are trimmed in batches of capacity/10 so the
// amortized append cost stays constant.
type Log struct {
	mu       sync.RWMutex
	capacity int
	batch    int
	routing  []models.RoutingRecord
	fusion   []models.FusionRecord
	sink     Sink
}

// NewLog creates a history log with the given capacity (minimum 10)
func NewLog(capacity int, sink Sink) *Log {
	if capacity < 10 {
		capacity = 10
	}
	batch := capacity / 10
	return &Log{
		capacity: capacity,
		batch:    batch,
		routing:  make([]models.RoutingRecord, 0, capacity),
		fusion:   make([]models.FusionRecord, 0, capacity),
		sink:     sink,
	}
}

// AppendRouting records a routed request
func (l *Log) AppendRouting(rec models.RoutingRecord) {
	l.mu.Lock()
	if len(l.routing) >= l.capacity {
		trimmed := copy(l.routing, l.routing[l.batch:])
		l.routing = l.routing[:trimmed]
		fiberlog.Debugf("History: trimmed %d oldest routing records", l.batch)
	}
	l.routing = append(l.routing, rec)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.StoreRoutingRecord(rec)
	}
}

// AppendFusion records a fusion call
func (l *Log) AppendFusion(rec models.FusionRecord) {
	l.mu.Lock()
	if len(l.fusion) >= l.capacity {
		trimmed := copy(l.fusion, l.fusion[l.batch:])
		l.fusion = l.fusion[:trimmed]
		fiberlog.Debugf("History: trimmed %d oldest fusion records", l.batch)
	}
	l.fusion = append(l.fusion, rec)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.StoreFusionRecord(rec)
	}
}

// RecentRouting returns a snapshot copy of the newest n routing records,
// oldest first.
func (l *Log) RecentRouting(n int) []models.RoutingRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.routing) {
		n = len(l.routing)
	}
	out := make([]models.RoutingRecord, n)
	copy(out, l.routing[len(l.routing)-n:])
	return out
}

// RecentFusion returns a snapshot copy of the newest n fusion records,
// oldest first.
func (l *Log) RecentFusion(n int) []models.FusionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.fusion) {
		n = len(l.fusion)
	}
	out := make([]models.FusionRecord, n)
	copy(out, l.fusion[len(l.fusion)-n:])
	return out
}

// RoutingLen reports the number of retained routing records
func (l *Log) RoutingLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.routing)
}

// Preload seeds the log with records restored from durable storage
func (l *Log) Preload(routing []models.RoutingRecord, fusion []models.FusionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(routing) > l.capacity {
		routing = routing[len(routing)-l.capacity:]
	}
	if len(fusion) > l.capacity {
		fusion = fusion[len(fusion)-l.capacity:]
	}
	l.routing = append(l.routing[:0], routing...)
	l.fusion = append(l.fusion[:0], fusion...)
	fiberlog.Infof("History: preloaded %d routing and %d fusion records", len(l.routing), len(l.fusion))
}
