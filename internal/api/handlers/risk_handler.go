package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/storage/sqlite"
	"github.com/govmatrix/backend/pkg/logger"
)

type RiskHandler struct {
	db *sqlite.Client
}

func NewRiskHandler(db *sqlite.Client) *RiskHandler {
	return &RiskHandler{db: db}
}

// GetStatistics returns active-risk totals and the severity-level breakdown.
// Without a projectId query parameter it spans all projects.
func (h *RiskHandler) GetStatistics(c *fiber.Ctx) error {
	projectID := c.Query("projectId")

	stats, err := h.db.GetRiskStatistics(projectID)
	if err != nil {
		logger.Error("Failed to compute risk statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute risk statistics",
		})
	}

	return c.JSON(stats)
}

// ListByProject returns a project's active risks, highest severity first.
func (h *RiskHandler) ListByProject(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	limit := c.QueryInt("limit", 50)
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	risks, err := h.db.GetRisksByProject(projectID, limit)
	if err != nil {
		logger.Error("Failed to list risks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list risks",
		})
	}

	return c.JSON(fiber.Map{
		"projectId": projectID,
		"count":     len(risks),
		"risks":     risks,
	})
}

// DeleteRisk soft-deletes one risk row.
func (h *RiskHandler) DeleteRisk(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid risk id",
		})
	}

	if err := h.db.SoftDeleteRisk(int64(id)); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Risk not found",
			})
		}
		logger.Error("Failed to delete risk", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete risk",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Risk deleted",
	})
}
