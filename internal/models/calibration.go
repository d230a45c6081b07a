package models

import "time"

// CalibrationRecord is appended on every calibration call
type CalibrationRecord struct {
	Model                string    `json:"model"`
	RawConfidence        float64   `json:"raw_confidence"`
	CalibratedConfidence float64   `json:"calibrated_confidence"`
	Timestamp            time.Time `json:"timestamp"`
}

// ModelCalibrationInfo holds per-model running totals used to derive the
// learned average accuracy and reliability score. Updated after every
// calibration call under the calibrator's serialization discipline.
type ModelCalibrationInfo struct {
	SampleCount   int64   `json:"sample_count"`
	ConfidenceSum float64 `json:"confidence_sum"`
	ErrorSum      float64 `json:"error_sum"` // sum of |calibration error|
}

// AverageAccuracy is the learned mean calibrated confidence for the model
func (i ModelCalibrationInfo) AverageAccuracy() float64 {
	if i.SampleCount == 0 {
		return 0
	}
	return i.ConfidenceSum / float64(i.SampleCount)
}

// AverageError is the learned mean absolute calibration error
func (i ModelCalibrationInfo) AverageError() float64 {
	if i.SampleCount == 0 {
		return 0
	}
	return i.ErrorSum / float64(i.SampleCount)
}

// ReliabilityScore maps the average error into a multiplier near 1.0: a model
// with no observed error scores 1.0, a chronically miscalibrated one below.
func (i ModelCalibrationInfo) ReliabilityScore() float64 {
	score := 1.0 - i.AverageError()
	if score < 0.5 {
		score = 0.5
	}
	return score
}

// CalibrationContext carries the conversational signals consumed by the
// calibrator's contextual adjustment stage.
type CalibrationContext struct {
	ConversationTurns  int            `json:"conversation_turns,omitzero"`
	TopicFamiliarity   float64        `json:"topic_familiarity,omitzero"` // 0 unfamiliar .. 1 familiar, 0 means unknown
	WorkspaceType      string         `json:"workspace_type,omitzero"`
	QueryType          QueryType      `json:"query_type,omitzero"`
	Complexity         Complexity     `json:"complexity,omitzero"`
	EnsembleStrategy   FusionStrategy `json:"ensemble_strategy,omitzero"`
	ContributingModels []string       `json:"contributing_models,omitzero"`
}
