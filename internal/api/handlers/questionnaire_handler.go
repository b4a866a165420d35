package handlers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/agent"
	"github.com/govmatrix/backend/internal/middleware/auth"
	"github.com/govmatrix/backend/internal/normalize"
	"github.com/govmatrix/backend/internal/pipeline"
	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/internal/storage/sqlite"
	"github.com/govmatrix/backend/pkg/logger"
)

type QuestionnaireHandler struct {
	pipeline *pipeline.Pipeline
	db       *sqlite.Client
}

func NewQuestionnaireHandler(p *pipeline.Pipeline, db *sqlite.Client) *QuestionnaireHandler {
	return &QuestionnaireHandler{
		pipeline: p,
		db:       db,
	}
}

// ProcessQuestionnaire runs a full questionnaire session. The answers field
// accepts either a JSON object or a string-encoded JSON object, since some
// form clients double-encode it.
func (h *QuestionnaireHandler) ProcessQuestionnaire(c *fiber.Ctx) error {
	var req struct {
		Answers     json.RawMessage `json:"answers"`
		UseCaseType string          `json:"useCaseType"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse questionnaire request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	answers, err := decodeAnswers(req.Answers)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid answers payload",
		})
	}
	if len(answers) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Answers are required",
		})
	}

	result, err := h.pipeline.Process(c.Context(), pipeline.ProcessRequest{
		Answers:     answers,
		UseCaseType: req.UseCaseType,
		CreatedBy:   auth.UserID(c),
	})
	if err != nil {
		return questionnaireError(c, result.SessionID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":          "Questionnaire processed successfully",
		"sessionId":        result.SessionID,
		"projectId":        result.ProjectID,
		"riskAssessmentId": result.RiskAssessmentID,
		"risksCount":       len(result.Risks),
		"risks":            result.Risks,
		"controlsCount":    len(result.Controls),
		"controls":         result.Controls,
		"governanceReport": result.GovernanceReport,
	})
}

// GetSessionStatus reports the persisted risks of a session.
func (h *QuestionnaireHandler) GetSessionStatus(c *fiber.Ctx) error {
	sessionID := c.Params("sessionId")

	risks, err := h.db.GetRisksBySession(sessionID)
	if err != nil {
		logger.Error("Failed to load session risks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session",
		})
	}
	if len(risks) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	return c.JSON(fiber.Map{
		"sessionId":        sessionID,
		"riskAssessmentId": risks[0].RiskAssessmentID,
		"risksCount":       len(risks),
		"risks":            risks,
	})
}

// ListQuestions returns the active question catalog.
func (h *QuestionnaireHandler) ListQuestions(c *fiber.Ctx) error {
	questions, err := h.db.ListQuestions()
	if err != nil {
		logger.Error("Failed to list questions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list questions",
		})
	}

	return c.JSON(fiber.Map{
		"count":     len(questions),
		"questions": questions,
	})
}

func decodeAnswers(raw json.RawMessage) (models.Answers, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var answers models.Answers
	if err := json.Unmarshal(raw, &answers); err == nil {
		return answers, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(encoded), &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

// questionnaireError maps pipeline failures onto HTTP responses. Upstream
// agent failures keep the agent's status code; everything else is a 500.
func questionnaireError(c *fiber.Ctx, sessionID string, err error) error {
	var upstream *agent.UpstreamError
	if errors.As(err, &upstream) {
		return c.Status(upstream.Status).JSON(fiber.Map{
			"error":     fmt.Sprintf("The %s agent failed", upstream.Stage),
			"sessionId": sessionID,
			"status":    upstream.Status,
			"detail":    upstream.Detail,
		})
	}

	var invariant *normalize.InvariantError
	if errors.As(err, &invariant) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "The controls agent returned an invalid batch",
			"sessionId": sessionID,
			"detail":    invariant.Error(),
		})
	}

	logger.Error("Questionnaire processing failed",
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":     "Failed to process questionnaire",
		"sessionId": sessionID,
		"detail":    err.Error(),
	})
}
