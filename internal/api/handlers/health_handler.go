package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/docuquery/backend/internal/orchestrator"
)

type HealthHandler struct {
	orch *orchestrator.Orchestrator
}

func NewHealthHandler(orch *orchestrator.Orchestrator) *HealthHandler {
	return &HealthHandler{
		orch: orch,
	}
}

// HandleHealth reports dependency health. Open breakers degrade the
// status but the endpoint itself stays 200 so probes can read details.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	detail := h.orch.Health(c.Context())

	status := "healthy"
	if breakers, ok := detail["breakers"].(map[string]string); ok {
		for _, state := range breakers {
			if state == "open" {
				status = "degraded"
				break
			}
		}
	}
	if cacheStatus, ok := detail["cache"].(string); ok && cacheStatus == "down" {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"detail": detail,
	})
}
