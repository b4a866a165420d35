package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/agent"
	"github.com/govmatrix/backend/internal/cache/redis"
	"github.com/govmatrix/backend/internal/pipeline"
	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/internal/storage/sqlite"
	"github.com/govmatrix/backend/pkg/logger"
)

type GovernanceHandler struct {
	db       *sqlite.Client
	cache    *redis.Client
	pipeline *pipeline.Pipeline
}

// NewGovernanceHandler wires the score read and recalculation endpoints.
// cache may be nil; reads then always hit the store.
func NewGovernanceHandler(db *sqlite.Client, cache *redis.Client, p *pipeline.Pipeline) *GovernanceHandler {
	return &GovernanceHandler{
		db:       db,
		cache:    cache,
		pipeline: p,
	}
}

// GetScores returns the current governance score of a project. A project
// that was never scored gets a zeroed snapshot rather than a 404, so the
// dashboard can always render.
func (h *GovernanceHandler) GetScores(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	if h.cache != nil {
		if snapshot, ok, err := h.cache.GetLatestScore(c.Context(), projectID); err == nil && ok {
			return c.JSON(fiber.Map{
				"projectId": projectID,
				"assessed":  true,
				"score":     snapshot,
			})
		}
	}

	snapshot, err := h.db.GetLatestScore(projectID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.JSON(fiber.Map{
				"projectId": projectID,
				"assessed":  false,
				"score":     &models.ScoreSnapshot{ProjectID: projectID},
			})
		}
		logger.Error("Failed to load governance score", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load governance score",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetLatestScore(c.Context(), projectID, snapshot); err != nil {
			logger.Warn("Failed to cache governance score",
				zap.String("project_id", projectID),
				zap.Error(err),
			)
		}
	}

	return c.JSON(fiber.Map{
		"projectId": projectID,
		"assessed":  true,
		"score":     snapshot,
	})
}

// GetScoreHistory returns past snapshots, newest first.
func (h *GovernanceHandler) GetScoreHistory(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	limit := c.QueryInt("limit", 10)
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	history, err := h.db.GetScoreHistory(projectID, limit)
	if err != nil {
		logger.Error("Failed to load score history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load score history",
		})
	}

	return c.JSON(fiber.Map{
		"projectId": projectID,
		"count":     len(history),
		"history":   history,
	})
}

// Recalculate re-runs governance scoring from the project's current answers
// and controls. Unlike questionnaire processing, every failure propagates.
func (h *GovernanceHandler) Recalculate(c *fiber.Ctx) error {
	projectID := c.Params("projectId")

	snapshot, err := h.pipeline.Recalculate(c.Context(), projectID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Project not found",
			})
		}
		var upstream *agent.UpstreamError
		if errors.As(err, &upstream) {
			return c.Status(upstream.Status).JSON(fiber.Map{
				"error":  "The governance agent failed",
				"status": upstream.Status,
				"detail": upstream.Detail,
			})
		}
		logger.Error("Recalculation failed",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Failed to recalculate governance scores",
			"detail": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Governance scores recalculated",
		"projectId": projectID,
		"score":     snapshot,
	})
}

// GetStatistics aggregates the latest snapshot of every project assessed in
// the last 30 days.
func (h *GovernanceHandler) GetStatistics(c *fiber.Ctx) error {
	stats, err := h.db.GetGovernanceStatistics()
	if err != nil {
		logger.Error("Failed to compute governance statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute governance statistics",
		})
	}

	return c.JSON(stats)
}
