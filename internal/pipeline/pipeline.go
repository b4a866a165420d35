package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/agent"
	"github.com/govmatrix/backend/internal/cache/redis"
	"github.com/govmatrix/backend/internal/metrics"
	"github.com/govmatrix/backend/internal/normalize"
	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/internal/storage/sqlite"
	"github.com/govmatrix/backend/pkg/logger"
)

const (
	defaultProjectName = "AI Risk Project"
	defaultWorkflow    = "Default Workflow"
	degradedReportText = "Failed to generate governance report."
)

var templatePrefixes = map[string]string{
	models.TemplateAISystem:        "AI",
	models.TemplateCyberMgmtSystem: "CB",
	models.TemplateThirdPartyAI:    "AT",
	models.TemplateThirdPartyCyber: "CT",
}

// Pipeline drives a questionnaire run end to end: project creation, risk and
// control derivation, normalization, persistence, and governance scoring.
type Pipeline struct {
	db     *sqlite.Client
	agents *agent.Client
	cache  *redis.Client
}

// NewPipeline wires the orchestrator. cache may be nil; score caching is then
// skipped entirely.
func NewPipeline(db *sqlite.Client, agents *agent.Client, cache *redis.Client) *Pipeline {
	return &Pipeline{
		db:     db,
		agents: agents,
		cache:  cache,
	}
}

type ProcessRequest struct {
	Answers     models.Answers
	UseCaseType string
	CreatedBy   string
}

// ProcessResult is returned even when Process fails, carrying at least the
// SessionID so callers can reference the failed run.
type ProcessResult struct {
	SessionID        string
	ProjectID        string
	RiskAssessmentID string
	Risks            []models.Risk
	Controls         []models.Control
	GovernanceReport *agent.GovernanceReport
}

// Process runs one questionnaire session. Risk or control derivation failure
// aborts the run; governance scoring failure degrades it instead, because the
// risk and control writes have already committed and are kept.
func (p *Pipeline) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	sessionID := uuid.NewString()
	family := agent.FamilyFromUseCase(req.UseCaseType)

	logger.Info("Processing questionnaire",
		zap.String("session_id", sessionID),
		zap.String("family", string(family)),
	)

	summary, err := p.buildSummary(req.Answers)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
	}

	project := &models.Project{
		ProjectID:   generateProjectID(req.UseCaseType),
		ProjectName: projectNameFromAnswers(req.Answers),
		Workflow:    defaultWorkflow,
		Template:    req.UseCaseType,
		Owner:       req.CreatedBy,
		Status:      "Opened",
		Answers:     req.Answers,
	}
	if err := p.db.InsertProject(project); err != nil {
		logger.Error("Failed to persist project",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
	}

	derivation, err := p.agents.DeriveRisks(ctx, family, agent.RiskDerivationRequest{
		SessionID: sessionID,
		ProjectID: project.ProjectID,
		Summary:   summary,
	})
	if err != nil {
		logger.Error("Risk derivation failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.PipelineRuns.WithLabelValues("upstream_error").Inc()
		return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
	}

	// An empty derivation is an explicit empty result, not a failure.
	var risks []models.Risk
	if len(derivation.ParsedRisks) > 0 {
		batch := normalize.RiskBatch(derivation.ParsedRisks, sessionID, project.ProjectID, derivation.RiskAssessmentID, req.CreatedBy)
		risks, err = p.db.InsertRisks(batch)
		if err != nil {
			metrics.PipelineRuns.WithLabelValues("error").Inc()
			return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
		}
		metrics.RisksStored.Add(float64(len(risks)))
	}

	riskIDs := make([]string, 0, len(derivation.ParsedRisks))
	for _, raw := range derivation.ParsedRisks {
		if id := string(raw.RiskID); id != "" {
			riskIDs = append(riskIDs, id)
		}
	}

	controlDerivation, err := p.agents.DeriveControls(ctx, family, agent.ControlDerivationRequest{
		SessionID:        sessionID,
		ProjectID:        project.ProjectID,
		RiskAssessmentID: derivation.RiskAssessmentID,
		RiskIDs:          riskIDs,
	})
	if err != nil {
		logger.Error("Control derivation failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.PipelineRuns.WithLabelValues("upstream_error").Inc()
		return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
	}

	normalized, err := normalize.ControlBatch(controlDerivation.ParsedControls, req.CreatedBy, project.ProjectID)
	if err != nil {
		logger.Error("Control batch rejected",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
	}
	// Fresh controls always start unimplemented, whatever the agent claims.
	for i := range normalized {
		normalized[i].Status = normalize.DefaultControlStatus
	}

	controls, err := p.db.InsertControls(normalized)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("error").Inc()
		return &ProcessResult{SessionID: sessionID}, fmt.Errorf("[%s] %w", sessionID, err)
	}
	metrics.ControlsStored.Add(float64(len(controls)))

	report := p.scoreGovernance(ctx, sessionID, project.ProjectID, req.Answers, controls)

	metrics.PipelineRuns.WithLabelValues("ok").Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	logger.Info("Questionnaire processed",
		zap.String("session_id", sessionID),
		zap.String("project_id", project.ProjectID),
		zap.Int("risks", len(risks)),
		zap.Int("controls", len(controls)),
		zap.Bool("governance_degraded", report.Error != ""),
	)

	return &ProcessResult{
		SessionID:        sessionID,
		ProjectID:        project.ProjectID,
		RiskAssessmentID: derivation.RiskAssessmentID,
		Risks:            risks,
		Controls:         controls,
		GovernanceReport: report,
	}, nil
}

// scoreGovernance runs the final scoring stage. Any failure degrades to an
// error placeholder report; the already-persisted risks and controls stand.
func (p *Pipeline) scoreGovernance(ctx context.Context, sessionID, projectID string, answers models.Answers, controls []models.Control) *agent.GovernanceReport {
	degraded := &agent.GovernanceReport{Error: degradedReportText}

	payload, err := p.buildGovernancePayload(answers, controls)
	if err != nil {
		logger.Error("Failed to build governance payload",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.GovernanceDegraded.Inc()
		return degraded
	}

	report, err := p.agents.AssessGovernance(ctx, *payload)
	if err != nil || report.Scores == nil || report.Error != "" {
		logger.Error("Governance scoring failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.GovernanceDegraded.Inc()
		return degraded
	}

	implemented := 0
	for _, c := range controls {
		if IsEvidenced(c.Status) {
			implemented++
		}
	}

	snapshot := snapshotFromReport(projectID, report, implemented, len(controls))
	if err := p.db.InsertScoreSnapshot(snapshot); err != nil {
		logger.Error("Failed to persist score snapshot",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.GovernanceDegraded.Inc()
		return degraded
	}
	p.invalidateScoreCache(ctx, projectID)

	return report
}

// Recalculate rebuilds the governance payload from current project state and
// re-runs scoring only. Unlike the full pipeline there is no partial progress
// to preserve, so every failure propagates.
func (p *Pipeline) Recalculate(ctx context.Context, projectID string) (*models.ScoreSnapshot, error) {
	snapshot, err := p.recalculate(ctx, projectID)
	if err != nil {
		metrics.RecalculationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RecalculationsTotal.WithLabelValues("ok").Inc()
	return snapshot, nil
}

func (p *Pipeline) recalculate(ctx context.Context, projectID string) (*models.ScoreSnapshot, error) {
	logger.Info("Recalculating governance scores", zap.String("project_id", projectID))

	project, err := p.db.GetProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project for recalculation: %w", err)
	}

	controls, err := p.db.GetControlsByProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load controls for recalculation: %w", err)
	}

	payload, err := p.buildGovernancePayload(project.Answers, controls)
	if err != nil {
		return nil, err
	}

	report, err := p.agents.AssessGovernance(ctx, *payload)
	if err != nil {
		return nil, fmt.Errorf("governance recalculation failed: %w", err)
	}
	if report.Scores == nil || report.Error != "" {
		return nil, fmt.Errorf("governance recalculation returned an invalid report: %s", report.Error)
	}

	implemented := 0
	for _, c := range payload.Controls {
		if c.Evidence {
			implemented++
		}
	}

	snapshot := snapshotFromReport(projectID, report, implemented, len(payload.Controls))
	if err := p.db.InsertScoreSnapshot(snapshot); err != nil {
		return nil, err
	}
	p.invalidateScoreCache(ctx, projectID)

	logger.Info("Governance scores recalculated",
		zap.String("project_id", projectID),
		zap.Float64("overall", snapshot.OverallScore),
	)

	return snapshot, nil
}

func (p *Pipeline) invalidateScoreCache(ctx context.Context, projectID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateScore(ctx, projectID); err != nil {
		logger.Warn("Failed to invalidate score cache",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	}
}

func projectNameFromAnswers(answers models.Answers) string {
	if name, ok := answers["projectName"].(string); ok && name != "" {
		return name
	}
	return defaultProjectName
}

// generateProjectID builds an identifier from the template prefix table plus
// a short random numeric suffix. Uniqueness is enforced at the store.
func generateProjectID(template string) string {
	prefix, ok := templatePrefixes[template]
	if !ok {
		prefix = "P"
	}
	return fmt.Sprintf("%s-%04d", prefix, rand.Intn(10000))
}
