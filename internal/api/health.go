package api

import (
	"context"
	"time"

	"github.com/mindfuse/ensemble-engine/internal/config"
	"github.com/mindfuse/ensemble-engine/internal/services/database"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness and component status
type HealthHandler struct {
	cfg         *config.Config
	redisClient *redis.Client
	db          *database.DB
}

func NewHealthHandler(cfg *config.Config, redisClient *redis.Client, db *database.DB) *HealthHandler {
	return &HealthHandler{cfg: cfg, redisClient: redisClient, db: db}
}

// HealthCheck handles GET /health. Optional components report "disabled"
// rather than degrading overall status.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	redisStatus := h.checkRedis()
	dbStatus := h.checkDatabase()

	overallStatus := "healthy"
	statusCode := fiber.StatusOK
	if redisStatus == "unhealthy" || dbStatus == "unhealthy" {
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": fiber.Map{
			"redis":    redisStatus,
			"database": dbStatus,
			"models":   len(h.cfg.Models),
		},
	})
}

func (h *HealthHandler) checkRedis() string {
	if h.redisClient == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func (h *HealthHandler) checkDatabase() string {
	if h.db == nil {
		return "disabled"
	}
	if err := h.db.Ping(); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
