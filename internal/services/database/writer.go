package database

import (
	"fmt"
	"sync"

	"github.com/mindfuse/ensemble-engine/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const writerBufferSize = 256

// Writer persists history and calibration records asynchronously through a
// buffered channel, so foreground routing and calibration calls never block
// on the database. When the buffer is full, records are dropped with a log
// line rather than stalling the caller.
type Writer struct {
	db      *DB
	records chan any
	done    chan struct{}
	once    sync.Once
}

func NewWriter(db *DB) *Writer {
	w := &Writer{
		db:      db,
		records: make(chan any, writerBufferSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	for rec := range w.records {
		var err error
		switch r := rec.(type) {
		case models.RoutingRecord:
			err = w.db.Create(ptr(newRoutingRow(r))).Error
		case models.FusionRecord:
			err = w.db.Create(ptr(newFusionRow(r))).Error
		case models.CalibrationRecord:
			err = w.db.Create(ptr(newCalibrationRow(r))).Error
		}
		if err != nil {
			fiberlog.Errorf("Database writer: failed to persist record: %v", err)
		}
	}
	close(w.done)
}

func ptr[T any](v T) *T { return &v }

func (w *Writer) enqueue(rec any) {
	select {
	case w.records <- rec:
	default:
		fiberlog.Warnf("Database writer: buffer full, dropping record")
	}
}

// StoreRoutingRecord implements history.Sink
func (w *Writer) StoreRoutingRecord(rec models.RoutingRecord) { w.enqueue(rec) }

// StoreFusionRecord implements history.Sink
func (w *Writer) StoreFusionRecord(rec models.FusionRecord) { w.enqueue(rec) }

// StoreCalibrationRecord implements calibration.Sink
func (w *Writer) StoreCalibrationRecord(rec models.CalibrationRecord) { w.enqueue(rec) }

// Close drains buffered records and stops the writer goroutine
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.records)
		<-w.done
	})
}

// LoadRecentRouting returns up to limit routing records, oldest first
func (db *DB) LoadRecentRouting(limit int) ([]models.RoutingRecord, error) {
	var rows []RoutingRecordRow
	if err := db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load routing records: %w", err)
	}
	records := make([]models.RoutingRecord, len(rows))
	for i, row := range rows {
		records[len(rows)-1-i] = row.toRecord()
	}
	return records, nil
}

// LoadRecentFusion returns up to limit fusion records, oldest first
func (db *DB) LoadRecentFusion(limit int) ([]models.FusionRecord, error) {
	var rows []FusionRecordRow
	if err := db.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load fusion records: %w", err)
	}
	records := make([]models.FusionRecord, len(rows))
	for i, row := range rows {
		records[len(rows)-1-i] = row.toRecord()
	}
	return records, nil
}

// LoadCalibrationTotals aggregates persisted calibration records into
// per-model running totals for calibrator preload.
func (db *DB) LoadCalibrationTotals() (map[string]models.ModelCalibrationInfo, error) {
	var rows []struct {
		Model         string
		SampleCount   int64
		ConfidenceSum float64
		ErrorSum      float64
	}
	err := db.Model(&CalibrationRecordRow{}).
		Select("model, count(*) as sample_count, sum(calibrated_confidence) as confidence_sum, sum(abs(calibrated_confidence - raw_confidence)) as error_sum").
		Group("model").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration totals: %w", err)
	}

	totals := make(map[string]models.ModelCalibrationInfo, len(rows))
	for _, row := range rows {
		totals[row.Model] = models.ModelCalibrationInfo{
			SampleCount:   row.SampleCount,
			ConfidenceSum: row.ConfidenceSum,
			ErrorSum:      row.ErrorSum,
		}
	}
	return totals, nil
}
