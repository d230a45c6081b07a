package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
)

// RoutingRecordRow is the persisted form of a routing record
type RoutingRecordRow struct {
	ID              uint      `gorm:"primaryKey"`
	RequestedModel  string    `gorm:"size:128"`
	SelectedModel   string    `gorm:"size:128;index"`
	Rationale       string    `gorm:"type:text"`
	Confidence      float64
	Alternatives    string    `gorm:"type:text"` // comma-separated model names
	QueryType       string    `gorm:"size:64;index"`
	Success         bool
	FinalConfidence float64
	RoutingLatency  int64 // nanoseconds
	Timestamp       time.Time `gorm:"index"`
}

func (RoutingRecordRow) TableName() string { return "routing_records" }

// FusionRecordRow is the persisted form of a fusion record
type FusionRecordRow struct {
	ID         uint      `gorm:"primaryKey"`
	Strategy   string    `gorm:"size:64"`
	Models     string    `gorm:"type:text"` // comma-separated model names
	Confidence float64
	Timestamp  time.Time `gorm:"index"`
}

func (FusionRecordRow) TableName() string { return "fusion_records" }

// CalibrationRecordRow is the persisted form of a calibration record
type CalibrationRecordRow struct {
	ID                   uint      `gorm:"primaryKey"`
	Model                string    `gorm:"size:128;index"`
	RawConfidence        float64
	CalibratedConfidence float64
	Timestamp            time.Time `gorm:"index"`
}

func (CalibrationRecordRow) TableName() string { return "calibration_records" }

// Migrate creates or updates the history store schema
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(&RoutingRecordRow{}, &FusionRecordRow{}, &CalibrationRecordRow{}); err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return nil
}

func newRoutingRow(rec models.RoutingRecord) RoutingRecordRow {
	return RoutingRecordRow{
		RequestedModel:  rec.Decision.RequestedModel,
		SelectedModel:   rec.Decision.SelectedModel,
		Rationale:       rec.Decision.Rationale,
		Confidence:      rec.Decision.Confidence,
		Alternatives:    strings.Join(rec.Decision.Alternatives, ","),
		QueryType:       string(rec.QueryType),
		Success:         rec.Success,
		FinalConfidence: rec.FinalConfidence,
		RoutingLatency:  int64(rec.RoutingLatency),
		Timestamp:       rec.Timestamp,
	}
}

func (r RoutingRecordRow) toRecord() models.RoutingRecord {
	var alternatives []string
	if r.Alternatives != "" {
		alternatives = strings.Split(r.Alternatives, ",")
	}
	return models.RoutingRecord{
		Decision: models.RoutingDecision{
			RequestedModel: r.RequestedModel,
			SelectedModel:  r.SelectedModel,
			Rationale:      r.Rationale,
			Confidence:     r.Confidence,
			Alternatives:   alternatives,
			Timestamp:      r.Timestamp,
		},
		QueryType:       models.QueryType(r.QueryType),
		Success:         r.Success,
		FinalConfidence: r.FinalConfidence,
		RoutingLatency:  time.Duration(r.RoutingLatency),
		Timestamp:       r.Timestamp,
	}
}

func newFusionRow(rec models.FusionRecord) FusionRecordRow {
	return FusionRecordRow{
		Strategy:   string(rec.Strategy),
		Models:     strings.Join(rec.Models, ","),
		Confidence: rec.Confidence,
		Timestamp:  rec.Timestamp,
	}
}

func (r FusionRecordRow) toRecord() models.FusionRecord {
	var contributingModels []string
	if r.Models != "" {
		contributingModels = strings.Split(r.Models, ",")
	}
	return models.FusionRecord{
		Strategy:   models.FusionStrategy(r.Strategy),
		Models:     contributingModels,
		Confidence: r.Confidence,
		Timestamp:  r.Timestamp,
	}
}

func newCalibrationRow(rec models.CalibrationRecord) CalibrationRecordRow {
	return CalibrationRecordRow{
		Model:                rec.Model,
		RawConfidence:        rec.RawConfidence,
		CalibratedConfidence: rec.CalibratedConfidence,
		Timestamp:            rec.Timestamp,
	}
}
