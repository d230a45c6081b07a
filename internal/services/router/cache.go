package router

import (
	"context"
	"fmt"

	"github.com/mindfuse/ensemble-engine/internal/models"

	"github.com/botirk38/semanticcache"
	"github.com/botirk38/semanticcache/options"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const defaultSemanticThreshold = 0.9

// DecisionCache remembers routing decisions by prompt, with exact key
// matching first and semantic similarity second, so near-duplicate prompts
// skip a full scoring pass.
type DecisionCache struct {
	cache             *semanticcache.SemanticCache[string, models.RoutingDecision]
	semanticThreshold float32
}

// NewDecisionCache builds the routing decision cache from config. Returns
// (nil, nil) when caching is disabled.
func NewDecisionCache(cfg models.CacheConfig) (*DecisionCache, error) {
	if !cfg.Enabled {
		fiberlog.Debug("DecisionCache: disabled")
		return nil, nil
	}

	threshold := cfg.SemanticThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultSemanticThreshold
		fiberlog.Warnf("DecisionCache: invalid semantic threshold, using default %.2f", threshold)
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set in decision cache configuration")
	}

	embedModel := cfg.EmbeddingModel
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	var cache *semanticcache.SemanticCache[string, models.RoutingDecision]
	var err error

	backend := cfg.Backend
	if backend == "" {
		backend = models.CacheBackendMemory
	}

	switch backend {
	case models.CacheBackendMemory:
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = 1000
			fiberlog.Warnf("DecisionCache: invalid or missing capacity, using default %d", capacity)
		}
		cache, err = semanticcache.New(
			options.WithOpenAIProvider[string, models.RoutingDecision](cfg.OpenAIAPIKey, embedModel),
			options.WithLRUBackend[string, models.RoutingDecision](capacity),
		)

	case models.CacheBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis URL not set for decision cache redis backend")
		}
		cache, err = semanticcache.New(
			options.WithOpenAIProvider[string, models.RoutingDecision](cfg.OpenAIAPIKey, embedModel),
			options.WithRedisBackend[string, models.RoutingDecision](cfg.RedisURL, 0),
		)

	default:
		return nil, fmt.Errorf("unsupported cache backend: %s (supported: redis, memory)", backend)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	fiberlog.Infof("DecisionCache: initialized (%s backend, threshold %.2f)", backend, threshold)
	return &DecisionCache{
		cache:             cache,
		semanticThreshold: float32(threshold),
	}, nil
}

// Lookup searches for a cached decision using exact match first, then
// semantic similarity.
func (dc *DecisionCache) Lookup(ctx context.Context, prompt, requestID string) (*models.RoutingDecision, string, bool) {
	if hit, found, err := dc.cache.Get(ctx, prompt); found && err == nil {
		fiberlog.Debugf("[%s] DecisionCache: exact hit", requestID)
		return &hit, models.CacheTierExact, true
	} else if err != nil {
		fiberlog.Errorf("[%s] DecisionCache: error during exact lookup: %v", requestID, err)
	}

	if match, err := dc.cache.Lookup(ctx, prompt, dc.semanticThreshold); err == nil && match != nil {
		fiberlog.Debugf("[%s] DecisionCache: semantic hit (score %.2f)", requestID, match.Score)
		return &match.Value, models.CacheTierSemantic, true
	} else if err != nil {
		fiberlog.Errorf("[%s] DecisionCache: error during semantic lookup: %v", requestID, err)
	}

	return nil, "", false
}

// StoreAsync saves a decision to the cache (fire-and-forget)
func (dc *DecisionCache) StoreAsync(ctx context.Context, prompt string, decision models.RoutingDecision, requestID string) {
	fiberlog.Debugf("[%s] DecisionCache: storing decision for %s (fire-and-forget)", requestID, decision.SelectedModel)
	dc.cache.SetAsync(ctx, prompt, prompt, decision)
}

// Close releases cache resources
func (dc *DecisionCache) Close() error {
	if dc == nil || dc.cache == nil {
		return nil
	}
	return dc.cache.Close()
}
