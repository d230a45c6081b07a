package api

import (
	"bufio"
	"encoding/json"
	"errors"

	"github.com/mindfuse/ensemble-engine/internal/models"
	"github.com/mindfuse/ensemble-engine/internal/services/engine"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"
)

const maxEnsembleSize = 5

// InferHandler serves routed inference requests
type InferHandler struct {
	engine *engine.Engine
}

func NewInferHandler(eng *engine.Engine) *InferHandler {
	return &InferHandler{engine: eng}
}

// Infer handles POST /v1/infer. With "stream": true the response is sent as
// server-sent events, token chunks first and the final calibrated result
// last.
func (h *InferHandler) Infer(c *fiber.Ctx) error {
	var req models.InferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, models.NewValidationError("invalid request body", err))
	}
	if req.Prompt == "" {
		return writeError(c, models.NewValidationError("prompt is required", nil))
	}
	if req.EnsembleSize > maxEnsembleSize {
		req.EnsembleSize = maxEnsembleSize
	}

	if req.Stream {
		return h.inferStreaming(c, &req)
	}

	result, err := h.engine.RouteAndInfer(c.UserContext(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

func (h *InferHandler) inferStreaming(c *fiber.Ctx, req *models.InferenceRequest) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	ctx := c.UserContext()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		result, err := h.engine.RouteAndInferStream(ctx, req, func(chunk models.TokenChunk) {
			writeEvent(w, "chunk", chunk)
		})
		if err != nil {
			fiberlog.Errorf("Streaming inference failed: %v", err)
			writeEvent(w, "error", fiber.Map{"error": err.Error()})
			return
		}
		writeEvent(w, "result", result)
	}))

	return nil
}

// writeEvent emits one SSE event and flushes so the client sees it
// immediately.
func writeEvent(w *bufio.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := w.WriteString("event: " + event + "\ndata: " + string(data) + "\n\n"); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		fiberlog.Debugf("Stream client disconnected: %v", err)
	}
}

// writeError maps AppError types onto HTTP status codes
func writeError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{
			"error":     appErr.Message,
			"type":      appErr.Type,
			"retryable": appErr.Retryable,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
		"type":  models.ErrorTypeInternal,
	})
}
