package calibration

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Calibrated confidence is always clamped to this interval, whatever the
// input combination.
const (
	minConfidence = 0.05
	maxConfidence = 0.98
)

const (
	// learnedBaseSamples is the sample count at which the learned average
	// replaces the static baseReliability as the base confidence.
	learnedBaseSamples = 50
	// biasCorrectionSamples gates bias subtraction and the reliability
	// multiplier.
	biasCorrectionSamples = 20
	// promotionThreshold is when the learned average overwrites the model's
	// baseReliability in the registry. This is the only runtime mutation of
	// static configuration.
	promotionThreshold = 50

	rawWeight  = 0.7
	baseWeight = 0.3

	diversityBonusPerModel = 0.02
	diversityBonusCap      = 0.06

	contextTurnCeiling = 10
)

var strategyBoost = map[models.FusionStrategy]float64{
	models.StrategySelectiveBest:        1.00,
	models.StrategyIntelligentWeighting: 1.05,
	models.StrategyConsensusBased:       1.10,
	models.StrategyQualityAveraging:     1.02,
	models.StrategyHierarchicalMerging:  1.03,
}

var (
	hedgingPhrases = []string{
		"i think", "i believe", "might be", "may be", "not sure", "possibly",
		"perhaps", "i'm not certain", "it could be", "i guess",
	}
	confidentPhrases = []string{
		"is defined as", "the answer is", "this means", "in fact",
	}
	codeMarkers = []string{"```", "func ", "def ", "class ", "return ", "import "}
)

// Sink receives calibration records for persistence. May be nil.
type Sink interface {
	StoreCalibrationRecord(rec models.CalibrationRecord)
}

type modelInfo struct {
	mu sync.Mutex
	models.ModelCalibrationInfo
	promoted bool
}

// Calibrator turns a raw per-response confidence into a calibrated, bounded
// one, and learns per-model bias over time. Safe for concurrent use; each
// model's running totals have their own lock.
type Calibrator struct {
	registry *registry.Registry
	sink     Sink

	mu   sync.Mutex
	info map[string]*modelInfo
}

func New(reg *registry.Registry, sink Sink) *Calibrator {
	return &Calibrator{
		registry: reg,
		sink:     sink,
		info:     make(map[string]*modelInfo),
	}
}

func (c *Calibrator) infoFor(model string) *modelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.info[model]
	if !ok {
		info = &modelInfo{}
		c.info[model] = info
	}
	return info
}

// Info returns a copy of the model's running calibration totals
func (c *Calibrator) Info(model string) models.ModelCalibrationInfo {
	info := c.infoFor(model)
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.ModelCalibrationInfo
}

// Preload seeds a model's running totals, typically from persisted records.
// Totals restored at or above the promotion threshold promote immediately,
// so a restart never strands the registry on the static reliability.
func (c *Calibrator) Preload(model string, totals models.ModelCalibrationInfo) {
	info := c.infoFor(model)
	info.mu.Lock()
	info.ModelCalibrationInfo = totals
	info.mu.Unlock()

	c.promote(info, model)
}

// Calibrate runs the full pipeline and records the observation. It never
// errors: out-of-range intermediate values are clamped, unknown models get
// neutral adjustments.
func (c *Calibrator) Calibrate(raw float64, content, model string, cctx models.CalibrationContext) float64 {
	value := clampUnit(raw)

	value = rawWeight*value + baseWeight*c.baseConfidence(model)
	value *= c.ensembleBoost(cctx)
	value *= c.contextFactor(model, cctx)
	value *= c.contentFactor(model, content)
	value = c.biasCorrect(model, value)

	calibrated := clamp(value, minConfidence, maxConfidence)
	c.record(model, raw, calibrated)
	return calibrated
}

// baseConfidence is the learned average when enough samples exist, otherwise
// the static catalog value.
func (c *Calibrator) baseConfidence(model string) float64 {
	info := c.infoFor(model)
	info.mu.Lock()
	samples := info.SampleCount
	learned := info.AverageAccuracy()
	info.mu.Unlock()

	if samples >= learnedBaseSamples {
		return learned
	}
	if profile, ok := c.registry.Profile(model); ok {
		return profile.BaseReliability
	}
	return 0.5
}

func (c *Calibrator) ensembleBoost(cctx models.CalibrationContext) float64 {
	boost, ok := strategyBoost[cctx.EnsembleStrategy]
	if !ok {
		boost = 1.0
	}
	if extra := len(cctx.ContributingModels) - 1; extra > 0 {
		bonus := diversityBonusPerModel * float64(extra)
		if bonus > diversityBonusCap {
			bonus = diversityBonusCap
		}
		boost += bonus
	}
	return boost
}

// contextFactor combines conversation depth, topic familiarity, complexity,
// and workspace reliability into one multiplier near 1.0.
func (c *Calibrator) contextFactor(model string, cctx models.CalibrationContext) float64 {
	turns := cctx.ConversationTurns
	if turns > contextTurnCeiling {
		turns = contextTurnCeiling
	}
	factor := 1.0 + 0.01*float64(turns)

	if cctx.TopicFamiliarity > 0 {
		factor *= 0.9 + 0.2*clampUnit(cctx.TopicFamiliarity)
	}

	switch cctx.Complexity {
	case models.ComplexityHigh:
		factor *= 0.95
	case models.ComplexityLow:
		factor *= 1.02
	}

	if cctx.WorkspaceType != "" {
		if profile, ok := c.registry.Profile(model); ok {
			// Blend the profile's workspace affinity toward neutral so a
			// strong routing signal stays a mild calibration signal.
			factor *= 1.0 + 0.1*(profile.WorkspaceMultiplier(cctx.WorkspaceType)-1.0)
		}
	}

	return factor
}

// contentFactor adjusts for length extremes, hedging versus confident
// phrasing, and code content from code-specialized models.
func (c *Calibrator) contentFactor(model, content string) float64 {
	factor := 1.0

	switch n := len(content); {
	case n < 20:
		factor *= 0.85
	case n > 4000:
		factor *= 0.9
	}

	lower := strings.ToLower(content)
	factor *= phraseFactor(lower, hedgingPhrases, 0.95)
	factor *= phraseFactor(lower, confidentPhrases, 1.02)

	if looksLikeCode(lower) {
		if profile, ok := c.registry.Profile(model); ok &&
			profile.SpecializationFor(models.QueryTypeCoding) > 0.7 {
			factor *= 1.05
		}
	}

	return factor
}

// phraseFactor applies one multiplier per matched phrase, at most three times
func phraseFactor(lower string, phrases []string, perHit float64) float64 {
	hits := 0
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			hits++
			if hits == 3 {
				break
			}
		}
	}
	return math.Pow(perHit, float64(hits))
}

func looksLikeCode(lower string) bool {
	for _, marker := range codeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// biasCorrect subtracts the learned average calibration error and applies
// the learned reliability multiplier once enough samples exist.
func (c *Calibrator) biasCorrect(model string, value float64) float64 {
	info := c.infoFor(model)
	info.mu.Lock()
	defer info.mu.Unlock()
	if info.SampleCount < biasCorrectionSamples {
		return value
	}
	return (value - info.AverageError()) * info.ReliabilityScore()
}

// record appends the observation and, past the promotion threshold, writes
// the learned average back into the registry.
func (c *Calibrator) record(model string, raw, calibrated float64) {
	info := c.infoFor(model)
	info.mu.Lock()
	info.SampleCount++
	info.ConfidenceSum += calibrated
	info.ErrorSum += math.Abs(calibrated - raw)
	info.mu.Unlock()

	if c.sink != nil {
		c.sink.StoreCalibrationRecord(models.CalibrationRecord{
			Model:                model,
			RawConfidence:        raw,
			CalibratedConfidence: calibrated,
			Timestamp:            time.Now(),
		})
	}

	c.promote(info, model)
}

// promote overwrites the registry's base reliability with the learned
// average once the model's sample count reaches the threshold. Fires at most
// once per model per process, whether the threshold is crossed by live
// observations or by preloaded totals.
func (c *Calibrator) promote(info *modelInfo, model string) {
	info.mu.Lock()
	due := !info.promoted && info.SampleCount >= promotionThreshold
	if due {
		info.promoted = true
	}
	samples := info.SampleCount
	learned := info.AverageAccuracy()
	info.mu.Unlock()

	if !due {
		return
	}
	if c.registry.SetBaseReliability(model, learned) {
		fiberlog.Infof("Calibrator: promoted learned reliability %.3f for %s after %d samples", learned, model, samples)
	}
}

func clampUnit(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
