package api

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/config"
	"github.com/mindfuse/ensemble-engine/internal/services/adaptive"
	"github.com/mindfuse/ensemble-engine/internal/services/analyzer"
	"github.com/mindfuse/ensemble-engine/internal/services/calibration"
	"github.com/mindfuse/ensemble-engine/internal/services/circuitbreaker"
	"github.com/mindfuse/ensemble-engine/internal/services/database"
	"github.com/mindfuse/ensemble-engine/internal/services/dispatch"
	"github.com/mindfuse/ensemble-engine/internal/services/engine"
	"github.com/mindfuse/ensemble-engine/internal/services/fusion"
	"github.com/mindfuse/ensemble-engine/internal/services/history"
	"github.com/mindfuse/ensemble-engine/internal/services/performance"
	"github.com/mindfuse/ensemble-engine/internal/services/providers"
	"github.com/mindfuse/ensemble-engine/internal/services/registry"
	"github.com/mindfuse/ensemble-engine/internal/services/router"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

// Server hosts the ensemble engine behind a Fiber HTTP surface
type Server struct {
	cfg    *config.Config
	app    *fiber.App
	engine *engine.Engine

	redis  *redis.Client
	db     *database.DB
	writer *database.Writer
	cache  *router.DecisionCache
	cancel context.CancelFunc
}

// NewServer wires the full engine from configuration. Redis, the decision
// cache, and the database are all optional.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogLevel(cfg)

	s := &Server{cfg: cfg}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		s.redis = redis.NewClient(opts)
	}

	reg, err := registry.New(cfg.Catalog(), cfg.Engine.System)
	if err != nil {
		return nil, fmt.Errorf("failed to build model registry: %w", err)
	}

	tracker := performance.NewTracker()
	overlay := adaptive.NewOverlay(cfg.Engine.AdaptiveBoost)
	calibrator := calibration.New(reg, nil)

	var historySink history.Sink
	if cfg.Database != nil {
		db, err := database.New(*cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		s.db = db
		s.writer = database.NewWriter(db)
		historySink = s.writer
		calibrator = calibration.New(reg, s.writer)
	}

	historyLog := history.NewLog(cfg.Engine.HistoryCapacity, historySink)
	if s.db != nil {
		s.preload(historyLog, calibrator)
	}

	providerNames := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		providerNames = append(providerNames, name)
	}
	breakers := circuitbreaker.NewBreakers(providerNames, s.redis)

	cache, err := router.NewDecisionCache(cfg.DecisionCache)
	if err != nil {
		fiberlog.Warnf("Server: decision cache disabled: %v", err)
	}
	s.cache = cache

	rtr := router.New(reg, tracker, overlay, breakers, cache)
	dispatcher := dispatch.New(reg, providers.BuildRegistry(cfg.Providers), breakers,
		cfg.Engine.MaxConcurrentInference, cfg.Engine.FallbackModel)
	fusionEngine := fusion.New(reg, cfg.Engine.QualityWeights, cfg.Engine.MinFusedLength)
	cycle := adaptive.NewLearningCycle(overlay, historyLog, cfg.Engine.LearningWindow,
		time.Duration(cfg.Engine.LearningIntervalMs)*time.Millisecond)

	s.engine = engine.New(cfg.Engine, engine.Deps{
		Registry:   reg,
		Analyzer:   analyzer.New(nil),
		Router:     rtr,
		Dispatcher: dispatcher,
		Fusion:     fusionEngine,
		Calibrator: calibrator,
		History:    historyLog,
		Tracker:    tracker,
		Cycle:      cycle,
	})

	return s, nil
}

// preload restores recent history and calibration totals from the store
func (s *Server) preload(log *history.Log, calibrator *calibration.Calibrator) {
	capacity := s.cfg.Engine.HistoryCapacity
	routing, err := s.db.LoadRecentRouting(capacity)
	if err != nil {
		fiberlog.Warnf("Server: failed to restore routing history: %v", err)
	}
	fusionRecords, err := s.db.LoadRecentFusion(capacity)
	if err != nil {
		fiberlog.Warnf("Server: failed to restore fusion history: %v", err)
	}
	if len(routing) > 0 || len(fusionRecords) > 0 {
		log.Preload(routing, fusionRecords)
	}

	totals, err := s.db.LoadCalibrationTotals()
	if err != nil {
		fiberlog.Warnf("Server: failed to restore calibration totals: %v", err)
		return
	}
	for model, info := range totals {
		calibrator.Preload(model, info)
	}
}

// Engine exposes the wired engine for in-process consumers
func (s *Server) Engine() *engine.Engine { return s.engine }

// Run starts the HTTP server and blocks until shutdown
func (s *Server) Run() error {
	port := s.cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	s.app = s.createApp()
	s.setupMiddleware()
	s.setupRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.engine.Start(ctx)

	fiberlog.Infof("Starting ensemble engine server on %s (env: %s, go: %s, GOMAXPROCS: %d)",
		listenAddr, s.cfg.Server.Environment, runtime.Version(), runtime.GOMAXPROCS(0))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		s.cleanup()
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		s.cleanup()
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.cleanup()
	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	s.engine.Stop()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			fiberlog.Errorf("Failed to close decision cache: %v", err)
		}
	}
	if s.writer != nil {
		s.writer.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close history store: %v", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
	}
}

func (s *Server) createApp() *fiber.App {
	isProd := s.cfg.IsProduction()
	return fiber.New(fiber.Config{
		AppName:           "EnsembleEngine v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		ServerHeader:      "EnsembleEngine",
		CaseSensitive:     true,
	})
}

func (s *Server) setupMiddleware() {
	isProd := s.cfg.IsProduction()

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	allowedOrigins := s.cfg.Server.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
	}))

	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		s.app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}
}

func (s *Server) setupRoutes() {
	inferHandler := NewInferHandler(s.engine)
	modelsHandler := NewModelsHandler(s.engine)
	healthHandler := NewHealthHandler(s.cfg, s.redis, s.db)

	v1 := s.app.Group("/v1")
	v1.Post("/infer", inferHandler.Infer)
	v1.Get("/models", modelsHandler.List)

	s.app.Get("/health", healthHandler.HealthCheck)
}

func setupLogLevel(cfg *config.Config) {
	switch cfg.GetNormalizedLogLevel() {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
	}
}
