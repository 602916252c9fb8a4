package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/orchestrator"
	"github.com/docuquery/backend/pkg/logger"
)

type QueryHandler struct {
	orch *orchestrator.Orchestrator
}

func NewQueryHandler(orch *orchestrator.Orchestrator) *QueryHandler {
	return &QueryHandler{
		orch: orch,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query      string `json:"query"`
		ScopeToken string `json:"scope_token"`
		DocumentID string `json:"document_id"`
		Strategy   string `json:"strategy"`
		MaxTokens  int    `json:"max_tokens"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	response, err := h.orch.RetrieveAndGenerate(c.Context(), orchestrator.QueryRequest{
		Query:      req.Query,
		ScopeToken: req.ScopeToken,
		DocumentID: req.DocumentID,
		Strategy:   req.Strategy,
		MaxTokens:  req.MaxTokens,
	})
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.Status(statusCode(response.Status)).JSON(response)
}

// statusCode maps degraded query outcomes to HTTP codes. Degraded
// responses still carry a body.
func statusCode(status string) int {
	switch status {
	case orchestrator.StatusRetrievalUnavailable, orchestrator.StatusGenerationUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusOK
	}
}
