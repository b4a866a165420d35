package pipeline

import (
	"fmt"
	"sort"

	"github.com/govmatrix/backend/internal/agent"
	"github.com/govmatrix/backend/internal/storage/models"
)

// doneStatuses are the control states that count as evidenced for scoring.
var doneStatuses = map[string]bool{
	"Compliant":   true,
	"Implemented": true,
	"In Progress": true,
}

// IsEvidenced reports whether a control status counts as implemented for
// governance scoring purposes.
func IsEvidenced(status string) bool {
	return doneStatuses[status]
}

func defaultWeights() map[string]float64 {
	return map[string]float64{"EU": 1.0, "NIST": 1.0, "ISO": 1.0}
}

// buildGovernancePayload assembles the scoring request from questionnaire
// answers and a set of controls. Answer keys that resolve in the question
// catalog become questions; unresolvable keys are excluded from questions but
// stay present in answers.
func (p *Pipeline) buildGovernancePayload(answers models.Answers, controls []models.Control) (*agent.GovernancePayload, error) {
	keys := answerKeys(answers)

	catalog, err := p.db.GetQuestionsByIDs(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve questions: %w", err)
	}

	sort.Strings(keys)
	questions := make([]agent.GovernanceQuestion, 0, len(catalog))
	for _, key := range keys {
		q, ok := catalog[key]
		if !ok {
			continue
		}
		tags := q.Tags
		if tags == nil {
			tags = []string{}
		}
		weights := q.Weights
		if len(weights) == 0 {
			weights = defaultWeights()
		}
		questions = append(questions, agent.GovernanceQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Tags:    tags,
			Weights: weights,
		})
	}

	controlsPayload := make(map[string]agent.GovernanceControl, len(controls))
	for _, c := range controls {
		if c.Code == "" {
			continue
		}
		desc := c.Requirements
		if desc == "" {
			desc = "N/A"
		}
		controlsPayload[c.Code] = agent.GovernanceControl{
			Desc:     desc,
			Evidence: IsEvidenced(c.Status),
			Weights:  defaultWeights(),
		}
	}

	return &agent.GovernancePayload{
		Questions: questions,
		Answers:   answers,
		Controls:  controlsPayload,
	}, nil
}

func snapshotFromReport(projectID string, report *agent.GovernanceReport, implemented, total int) *models.ScoreSnapshot {
	s := &models.ScoreSnapshot{
		ProjectID:                projectID,
		OverallScore:             report.Overall,
		ImplementedControlsCount: implemented,
		TotalControlsCount:       total,
	}
	if report.Scores != nil {
		s.EUScore = report.Scores.EU
		s.NISTScore = report.Scores.NIST
		s.ISOScore = report.Scores.ISO
	}
	return s
}
