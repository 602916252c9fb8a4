package handlers

import (
	"context"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/cache"
	"github.com/docuquery/backend/internal/ingestion"
	"github.com/docuquery/backend/internal/orchestrator"
	"github.com/docuquery/backend/internal/tasks"
	"github.com/docuquery/backend/internal/tracking"
	"github.com/docuquery/backend/pkg/logger"
)

// VectorDeleter removes a document's chunks from the vector store.
type VectorDeleter interface {
	DeleteByContentHash(ctx context.Context, contentHash string) error
}

type DocumentHandler struct {
	orch       *orchestrator.Orchestrator
	tracker    *tracking.Tracker
	vectors    VectorDeleter
	cacheStore cache.Store
	queue      *tasks.Queue
}

func NewDocumentHandler(orch *orchestrator.Orchestrator, tracker *tracking.Tracker, vectors VectorDeleter, cacheStore cache.Store, queue *tasks.Queue) *DocumentHandler {
	return &DocumentHandler{
		orch:       orch,
		tracker:    tracker,
		vectors:    vectors,
		cacheStore: cacheStore,
		queue:      queue,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	filename, scopeToken, data, err := parseUpload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	response, err := h.orch.Ingest(c.Context(), orchestrator.IngestRequest{
		Filename:   filename,
		ScopeToken: scopeToken,
		Data:       data,
	})
	if err != nil {
		if errors.Is(err, ingestion.ErrUnsupportedFileType) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if errors.Is(err, ingestion.ErrEmptyDocument) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if errors.Is(err, tasks.ErrQueueFull) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Ingestion queue is full, try again later",
			})
		}
		logger.Error("Failed to ingest document", zap.String("source", filename), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	code := fiber.StatusOK
	if response.Status == orchestrator.IngestStatusProcessing {
		code = fiber.StatusAccepted
	}
	return c.Status(code).JSON(response)
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.tracker.List(c.Context())
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}
	return c.JSON(fiber.Map{
		"documents": docs,
		"count":     len(docs),
	})
}

// DeleteDocument removes a document from the vector store and the
// tracker, then drops cached retrieval results that may reference its
// chunks.
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	contentHash := c.Params("content_hash")
	if contentHash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content_hash is required",
		})
	}

	rec, err := h.tracker.Exists(c.Context(), contentHash)
	if err != nil {
		logger.Error("Failed to look up document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	if err := h.vectors.DeleteByContentHash(c.Context(), contentHash); err != nil {
		logger.Error("Failed to delete document vectors",
			zap.String("content_hash", contentHash),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}
	if err := h.tracker.Purge(c.Context(), contentHash); err != nil {
		logger.Error("Failed to purge document record",
			zap.String("content_hash", contentHash),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}

	// Cached retrieval results may include chunks from the deleted
	// document, so all scopes are invalidated.
	if err := cache.PurgePrefix(c.Context(), h.cacheStore, "semantic:"); err != nil {
		logger.Warn("Failed to purge semantic cache after delete", zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"message":      "Document deleted",
		"content_hash": contentHash,
	})
}

func (h *DocumentHandler) GetTaskStatus(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	if taskID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "task_id is required",
		})
	}
	task := h.queue.Status(taskID)
	if task == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
		})
	}
	return c.JSON(task)
}

func parseUpload(c *fiber.Ctx) (filename, scopeToken string, data []byte, err error) {
	if fileHeader, ferr := c.FormFile("file"); ferr == nil {
		file, oerr := fileHeader.Open()
		if oerr != nil {
			return "", "", nil, errors.New("failed to read uploaded file")
		}
		defer file.Close()
		data, oerr = io.ReadAll(file)
		if oerr != nil {
			return "", "", nil, errors.New("failed to read uploaded file")
		}
		return fileHeader.Filename, c.FormValue("scope_token"), data, nil
	}

	var req struct {
		Filename   string `json:"filename"`
		Content    string `json:"content"`
		ScopeToken string `json:"scope_token"`
	}
	if perr := c.BodyParser(&req); perr != nil {
		return "", "", nil, errors.New("invalid request body")
	}
	if req.Filename == "" || req.Content == "" {
		return "", "", nil, errors.New("filename and content are required")
	}
	return req.Filename, req.ScopeToken, []byte(req.Content), nil
}
