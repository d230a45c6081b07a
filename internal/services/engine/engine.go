package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/adaptive"
	"github.com/mindfuse/ensemble-engine/internal/services/analyzer"
	"github.com/mindfuse/ensemble-engine/internal/services/calibration"
	"github.com/mindfuse/ensemble-engine/internal/services/dispatch"
	"github.com/mindfuse/ensemble-engine/internal/services/fusion"
	"github.com/mindfuse/ensemble-engine/internal/services/history"
	"github.com/mindfuse/ensemble-engine/internal/services/performance"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"
	"github.com/mindfuse/ensemble-engine/internal/services/router"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Engine is the caller-facing orchestrator: analyze, route, dispatch, fuse,
// calibrate, record. One Engine serves all requests concurrently.
type Engine struct {
	cfg        models.EngineConfig
	registry   *registry.Registry
	analyzer   *analyzer.Analyzer
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	fusion     *fusion.Engine
	calibrator *calibration.Calibrator
	history    *history.Log
	tracker    *performance.Tracker
	cycle      *adaptive.LearningCycle
}

// Deps are the engine's collaborators, wired by the host
type Deps struct {
	Registry   *registry.Registry
	Analyzer   *analyzer.Analyzer
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Fusion     *fusion.Engine
	Calibrator *calibration.Calibrator
	History    *history.Log
	Tracker    *performance.Tracker
	Cycle      *adaptive.LearningCycle
}

func New(cfg models.EngineConfig, deps Deps) *Engine {
	return &Engine{
		cfg:        cfg.WithDefaults(),
		registry:   deps.Registry,
		analyzer:   deps.Analyzer,
		router:     deps.Router,
		dispatcher: deps.Dispatcher,
		fusion:     deps.Fusion,
		calibrator: deps.Calibrator,
		history:    deps.History,
		tracker:    deps.Tracker,
		cycle:      deps.Cycle,
	}
}

// Start launches the background learning cycle
func (e *Engine) Start(ctx context.Context) {
	if e.cycle != nil {
		go e.cycle.Start(ctx)
	}
}

// Stop halts the background learning cycle
func (e *Engine) Stop() {
	if e.cycle != nil {
		e.cycle.Stop()
	}
}

// Registry exposes the model catalog for host surfaces
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Tracker exposes rolling per-model metrics for host surfaces
func (e *Engine) Tracker() *performance.Tracker { return e.tracker }

// RouteAndInfer answers the prompt with one calibrated result. EnsembleSize
// of one (or less) skips fusion entirely. The only hard error besides context
// cancellation is ErrNoModelAvailable; provider failures degrade into
// fallback-tagged results instead.
func (e *Engine) RouteAndInfer(ctx context.Context, req *models.InferenceRequest) (*models.InferenceResult, error) {
	return e.run(ctx, req, nil)
}

// RouteAndInferStream is RouteAndInfer with token-incremental delivery. The
// final fused, calibrated result is returned after the last chunk.
func (e *Engine) RouteAndInferStream(ctx context.Context, req *models.InferenceRequest, onChunk func(models.TokenChunk)) (*models.InferenceResult, error) {
	return e.run(ctx, req, onChunk)
}

func (e *Engine) run(ctx context.Context, req *models.InferenceRequest, onChunk func(models.TokenChunk)) (*models.InferenceResult, error) {
	requestID := generateRequestID()
	start := time.Now()

	analysis := e.analyzer.Analyze(req.Prompt, req.Context, req.WorkspaceHint)
	fiberlog.Debugf("[%s] Engine: analyzed prompt as %s/%s", requestID, analysis.QueryType, analysis.Complexity)

	ensembleSize := req.EnsembleSize
	if ensembleSize < 1 {
		ensembleSize = 1
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = e.cfg.DefaultStrategy
	}

	var result *models.InferenceResult
	var err error
	if ensembleSize == 1 {
		result, err = e.runSingle(ctx, req, analysis, requestID, onChunk)
	} else {
		result, err = e.runEnsemble(ctx, req, analysis, ensembleSize, strategy, requestID, onChunk)
	}
	if err != nil {
		return nil, err
	}

	result.Latency = time.Since(start)
	if onChunk != nil {
		onChunk(models.TokenChunk{Done: true})
	}

	fiberlog.Infof("[%s] Engine: completed with confidence %.2f using %v in %v",
		requestID, result.Confidence, result.ModelsUsed, result.Latency)
	return result, nil
}

func (e *Engine) runSingle(ctx context.Context, req *models.InferenceRequest, analysis models.PromptAnalysis, requestID string, onChunk func(models.TokenChunk)) (*models.InferenceResult, error) {
	routeStart := time.Now()
	decision, err := e.router.Route(ctx, req.Prompt, analysis, nil, req.PinnedModel, requestID)
	if err != nil {
		return nil, err
	}

	resp, err := e.infer(ctx, decision.SelectedModel, req, requestID, onChunk)
	if err != nil {
		return nil, err
	}

	confidence := e.calibrator.Calibrate(resp.RawConfidence, resp.Text, resp.Model, models.CalibrationContext{
		ConversationTurns: len(req.Context),
		WorkspaceType:     req.WorkspaceHint,
		QueryType:         analysis.QueryType,
		Complexity:        analysis.Complexity,
	})

	e.record(decision, analysis, !resp.Fallback, confidence, time.Since(routeStart), []models.ModelResponse{*resp})

	return &models.InferenceResult{
		Content:    resp.Text,
		Confidence: confidence,
		ModelsUsed: []string{resp.Model},
		Rationale:  decision.Rationale,
		Fallback:   resp.Fallback,
	}, nil
}

func (e *Engine) runEnsemble(ctx context.Context, req *models.InferenceRequest, analysis models.PromptAnalysis, size int, strategy models.FusionStrategy, requestID string, onChunk func(models.TokenChunk)) (*models.InferenceResult, error) {
	routeStart := time.Now()
	decision, err := e.router.Route(ctx, req.Prompt, analysis, nil, req.PinnedModel, requestID)
	if err != nil {
		return nil, err
	}

	names := e.ensembleModels(decision, analysis, size, requestID)
	fiberlog.Infof("[%s] Engine: dispatching ensemble of %d: %v", requestID, len(names), names)

	var responses []models.ModelResponse
	if onChunk != nil {
		responses = e.dispatchStreaming(ctx, names, req, requestID, onChunk)
	} else {
		responses = e.dispatcher.InferAll(ctx, names, req.Prompt, req.Params, requestID)
	}
	if len(responses) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewNoModelAvailableError("every ensemble member was cancelled")
	}

	fused := e.fusion.Fuse(ctx, responses, req.Prompt, strategy, requestID)

	confidence := e.calibrator.Calibrate(fused.Confidence, fused.Content, decision.SelectedModel, models.CalibrationContext{
		ConversationTurns:  len(req.Context),
		WorkspaceType:      req.WorkspaceHint,
		QueryType:          analysis.QueryType,
		Complexity:         analysis.Complexity,
		EnsembleStrategy:   fused.Strategy,
		ContributingModels: fused.ContributingModels,
	})

	anyFallback := false
	for _, resp := range responses {
		if resp.Fallback {
			anyFallback = true
		}
	}

	e.record(decision, analysis, !anyFallback, confidence, time.Since(routeStart), responses)
	e.history.AppendFusion(models.FusionRecord{
		Strategy:   fused.Strategy,
		Models:     fused.ContributingModels,
		Confidence: fused.Confidence,
		Timestamp:  time.Now(),
	})

	return &models.InferenceResult{
		Content:    fused.Content,
		Confidence: confidence,
		ModelsUsed: fused.ContributingModels,
		Rationale:  decision.Rationale,
		Strategy:   fused.Strategy,
		Fallback:   anyFallback,
	}, nil
}

// ensembleModels expands the routing decision into distinct ensemble members.
// The selected model always leads; a pinned model is already the selection.
func (e *Engine) ensembleModels(decision models.RoutingDecision, analysis models.PromptAnalysis, size int, requestID string) []string {
	names := []string{decision.SelectedModel}
	for _, scored := range e.router.TopK(analysis, nil, size, requestID) {
		if len(names) == size {
			break
		}
		if scored.Name != decision.SelectedModel {
			names = append(names, scored.Name)
		}
	}
	return names
}

// dispatchStreaming streams the primary member's tokens while the rest run
// silently, so the caller sees incremental output before fusion completes.
func (e *Engine) dispatchStreaming(ctx context.Context, names []string, req *models.InferenceRequest, requestID string, onChunk func(models.TokenChunk)) []models.ModelResponse {
	primary := names[0]
	rest := names[1:]

	type outcome struct {
		responses []models.ModelResponse
	}
	restDone := make(chan outcome, 1)
	go func() {
		restDone <- outcome{responses: e.dispatcher.InferAll(ctx, rest, req.Prompt, req.Params, requestID)}
	}()

	var responses []models.ModelResponse
	resp, err := e.dispatcher.InferStream(ctx, primary, req.Prompt, req.Params, requestID, func(token string) {
		onChunk(models.TokenChunk{Model: primary, Text: token})
	})
	if err != nil {
		fiberlog.Debugf("[%s] Engine: primary ensemble member %s cancelled: %v", requestID, primary, err)
	} else {
		responses = append(responses, *resp)
	}

	siblings := <-restDone
	return append(responses, siblings.responses...)
}

func (e *Engine) infer(ctx context.Context, model string, req *models.InferenceRequest, requestID string, onChunk func(models.TokenChunk)) (*models.ModelResponse, error) {
	if onChunk == nil {
		return e.dispatcher.Infer(ctx, model, req.Prompt, req.Params, requestID)
	}
	return e.dispatcher.InferStream(ctx, model, req.Prompt, req.Params, requestID, func(token string) {
		onChunk(models.TokenChunk{Model: model, Text: token})
	})
}

// record appends the routing record and updates per-model metrics
func (e *Engine) record(decision models.RoutingDecision, analysis models.PromptAnalysis, success bool, confidence float64, latency time.Duration, responses []models.ModelResponse) {
	e.history.AppendRouting(models.RoutingRecord{
		Decision:        decision,
		QueryType:       analysis.QueryType,
		Success:         success,
		FinalConfidence: confidence,
		RoutingLatency:  latency,
		Timestamp:       time.Now(),
	})
	for _, resp := range responses {
		e.tracker.Record(resp.Model, !resp.Fallback, resp.RawConfidence, resp.Latency)
	}
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(bytes)
}
