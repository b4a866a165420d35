package models

import "time"

// TemplateType values recognized by the project id prefix table.
const (
	TemplateAISystem        = "AI System"
	TemplateCyberMgmtSystem = "Cybersecurity Management System"
	TemplateThirdPartyAI    = "Third-party AI System"
	TemplateThirdPartyCyber = "Third-party Cybersecurity System"
)

// Answers is the opaque questionnaire key->value mapping. Keys are either
// well-known baseline keys or question catalog identifiers.
type Answers map[string]interface{}

type Project struct {
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Workflow    string    `json:"workflow"`
	Template    string    `json:"template"`
	Owner       string    `json:"owner"`
	Status      string    `json:"status"`
	Answers     Answers   `json:"answers"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Risk struct {
	ID               int64      `json:"id"`
	RiskAssessmentID string     `json:"riskAssessmentId"`
	SessionID        string     `json:"sessionId"`
	ProjectID        string     `json:"projectId"`
	RiskName         string     `json:"riskName"`
	RiskOwner        string     `json:"riskOwner"`
	Severity         int        `json:"severity"`
	Justification    string     `json:"justification"`
	Mitigation       string     `json:"mitigation"`
	TargetDate       *time.Time `json:"targetDate,omitempty"`
	Status           string     `json:"status"`
	StrategyStatus   string     `json:"strategyStatus"`
	CreatedBy        string     `json:"createdBy"`
	IsActive         bool       `json:"isActive"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Control is the persisted control record. RelatedRisks is always a single
// string, never an array; normalization collapses upstream shapes before
// anything reaches the store.
type Control struct {
	ID           int64     `json:"id"`
	Owner        string    `json:"owner"`
	Code         string    `json:"code"`
	Section      string    `json:"section"`
	Control      string    `json:"control"`
	Requirements string    `json:"requirements"`
	Status       string    `json:"status"`
	Tickets      string    `json:"tickets"`
	ProjectID    string    `json:"projectId"`
	RelatedRisks string    `json:"relatedRisks"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ScoreSnapshot is one governance assessment result for a project. Snapshots
// are append-only; the current score for a project is the active snapshot
// with the latest AssessmentDate.
type ScoreSnapshot struct {
	ID                       int64     `json:"id"`
	ProjectID                string    `json:"projectId"`
	EUScore                  float64   `json:"euScore"`
	NISTScore                float64   `json:"nistScore"`
	ISOScore                 float64   `json:"isoScore"`
	OverallScore             float64   `json:"overallScore"`
	ImplementedControlsCount int       `json:"implementedControlsCount"`
	TotalControlsCount       int       `json:"totalControlsCount"`
	AssessmentDate           time.Time `json:"assessmentDate"`
	UpdatedAt                time.Time `json:"updatedAt"`
	IsActive                 bool      `json:"isActive"`
}

// Question is a catalog entry resolvable from a questionnaire answer key.
type Question struct {
	ID       string             `json:"id"`
	Text     string             `json:"text"`
	Tags     []string           `json:"tags"`
	Weights  map[string]float64 `json:"weights"`
	Order    int                `json:"order"`
	IsActive bool               `json:"isActive"`
}

type RiskStatistics struct {
	TotalRisks int            `json:"totalRisks"`
	RiskLevels map[string]int `json:"riskLevels"`
}

type GovernanceStatistics struct {
	TotalProjectsAssessed      int     `json:"total_projects_assessed"`
	AverageOverallScore        float64 `json:"average_overall_score"`
	AverageEUScore             float64 `json:"average_eu_score"`
	AverageNISTScore           float64 `json:"average_nist_score"`
	AverageISOScore            float64 `json:"average_iso_score"`
	AverageImplementationRatio float64 `json:"average_implementation_ratio"`
}
