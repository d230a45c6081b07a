package api

import (
	"github.com/mindfuse/ensemble-engine/internal/services/engine"

	"github.com/gofiber/fiber/v2"
)

// ModelsHandler lists the model catalog with live metrics
type ModelsHandler struct {
	engine *engine.Engine
}

func NewModelsHandler(eng *engine.Engine) *ModelsHandler {
	return &ModelsHandler{engine: eng}
}

// List handles GET /v1/models
func (h *ModelsHandler) List(c *fiber.Ctx) error {
	reg := h.engine.Registry()
	tracker := h.engine.Tracker()

	names := reg.Candidates()
	entries := make([]fiber.Map, 0, len(names))
	for _, name := range names {
		profile, ok := reg.Profile(name)
		if !ok {
			continue
		}
		entries = append(entries, fiber.Map{
			"name":             profile.Name,
			"provider":         profile.Provider,
			"resource_cost_gb": profile.ResourceCostGB,
			"base_reliability": profile.BaseReliability,
			"specialization":   profile.Specialization,
			"metrics":          tracker.Snapshot(name),
		})
	}

	return c.JSON(fiber.Map{
		"models": entries,
		"system": reg.SystemState(),
	})
}
