package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/pipeline"
	"github.com/govmatrix/backend/internal/storage/sqlite"
	"github.com/govmatrix/backend/pkg/logger"
)

type ControlHandler struct {
	db       *sqlite.Client
	pipeline *pipeline.Pipeline
}

func NewControlHandler(db *sqlite.Client, p *pipeline.Pipeline) *ControlHandler {
	return &ControlHandler{
		db:       db,
		pipeline: p,
	}
}

// UpdateControl applies a partial edit to one control. A status change
// triggers a governance recalculation for the owning project; the update
// itself stands even when recalculation fails, and the failure is reported
// in the response instead of being swallowed.
func (h *ControlHandler) UpdateControl(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid control id",
		})
	}

	var req struct {
		Code         *string `json:"code"`
		Section      *string `json:"section"`
		Control      *string `json:"control"`
		Requirements *string `json:"requirements"`
		Status       *string `json:"status"`
		Tickets      *string `json:"tickets"`
		RelatedRisks *string `json:"relatedRisks"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	trimAll(req.Code, req.Section, req.Control, req.Requirements, req.Status, req.Tickets, req.RelatedRisks)
	if req.RelatedRisks != nil && *req.RelatedRisks == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "relatedRisks cannot be emptied",
		})
	}

	before, err := h.db.GetControl(int64(id))
	if err != nil {
		return controlLookupError(c, err)
	}

	updated, err := h.db.UpdateControl(int64(id), sqlite.ControlPatch{
		Code:         req.Code,
		Section:      req.Section,
		Control:      req.Control,
		Requirements: req.Requirements,
		Status:       req.Status,
		Tickets:      req.Tickets,
		RelatedRisks: req.RelatedRisks,
	})
	if err != nil {
		return controlLookupError(c, err)
	}

	resp := fiber.Map{
		"message": "Control updated",
		"control": updated,
	}
	if req.Status != nil && *req.Status != before.Status {
		resp["recalculation"] = h.recalculate(c, updated.ProjectID)
	}

	return c.JSON(resp)
}

// DeleteControl soft-deletes a control and recalculates the project scores,
// since the control no longer counts toward the implementation ratio.
func (h *ControlHandler) DeleteControl(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid control id",
		})
	}

	control, err := h.db.GetControl(int64(id))
	if err != nil {
		return controlLookupError(c, err)
	}

	if err := h.db.SoftDeleteControl(int64(id)); err != nil {
		return controlLookupError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":       "Control deleted",
		"recalculation": h.recalculate(c, control.ProjectID),
	})
}

// ListControls returns the active controls of a project.
func (h *ControlHandler) ListControls(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	controls, err := h.db.GetControlsByProject(projectID)
	if err != nil {
		logger.Error("Failed to list controls", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list controls",
		})
	}

	return c.JSON(fiber.Map{
		"projectId": projectID,
		"count":     len(controls),
		"controls":  controls,
	})
}

func (h *ControlHandler) recalculate(c *fiber.Ctx, projectID string) fiber.Map {
	snapshot, err := h.pipeline.Recalculate(c.Context(), projectID)
	if err != nil {
		logger.Error("Recalculation after control change failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return fiber.Map{
			"status": "failed",
			"detail": err.Error(),
		}
	}
	return fiber.Map{
		"status":       "ok",
		"overallScore": snapshot.OverallScore,
	}
}

func controlLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Control not found",
		})
	}
	logger.Error("Control operation failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to update control",
	})
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}
