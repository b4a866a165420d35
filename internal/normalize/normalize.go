package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/govmatrix/backend/internal/storage/models"
)

const (
	DefaultControlStatus = "Not Implemented"
	DefaultTickets       = "None"
	DefaultRiskStatus    = "Not Set"
)

// InvariantError reports a control that normalized to an empty relatedRisks
// string. The whole batch is rejected, never filtered.
type InvariantError struct {
	Index int
	Code  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("control normalization failed: relatedRisks is empty for control %d (code %q)", e.Index, e.Code)
}

// str accepts a JSON string, number or bool and coerces it to a string.
type str string

func (s *str) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = str(coerce(v))
	return nil
}

// riskRef accepts a scalar or an array of scalars. Arrays collapse to their
// first element; empty arrays collapse to the empty string.
type riskRef string

func (r *riskRef) UnmarshalJSON(data []byte) error {
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		var items []interface{}
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			*r = ""
			return nil
		}
		*r = riskRef(coerce(items[0]))
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = riskRef(coerce(v))
	return nil
}

func coerce(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// RawControl is the single decode point for control payloads from the
// assessment agents. The relatedRisks value may arrive under several key
// names and as either a scalar or an array.
type RawControl struct {
	Code         str                `json:"code"`
	Section      str                `json:"section"`
	Control      str                `json:"control"`
	Requirements str                `json:"requirements"`
	Status       str                `json:"status"`
	Tickets      json.RawMessage    `json:"tickets"`
	Weights      map[string]float64 `json:"weights"`

	RelatedRisks      *riskRef `json:"relatedRisks"`
	RelatedRisksSnake *riskRef `json:"related_risks"`
	RelatedRisk       *riskRef `json:"related_risk"`
	RiskAssessmentID  *riskRef `json:"risk_assessment_id"`
}

// relatedRisks resolves the alternate keys in their fixed precedence order.
func (rc RawControl) relatedRisks() string {
	for _, ref := range []*riskRef{rc.RelatedRisks, rc.RelatedRisksSnake, rc.RelatedRisk, rc.RiskAssessmentID} {
		if ref != nil {
			return strings.TrimSpace(string(*ref))
		}
	}
	return ""
}

func (rc RawControl) tickets() string {
	var s string
	if err := json.Unmarshal(rc.Tickets, &s); err != nil {
		return DefaultTickets
	}
	if s = strings.TrimSpace(s); s == "" {
		return DefaultTickets
	}
	return s
}

// Control produces a persisted-shape control record from a raw agent payload.
// Pure transform: batch validation stays with the caller.
func Control(raw RawControl, owner, projectID string) models.Control {
	status := strings.TrimSpace(string(raw.Status))
	if status == "" {
		status = DefaultControlStatus
	}
	return models.Control{
		Owner:        owner,
		Code:         strings.TrimSpace(string(raw.Code)),
		Section:      strings.TrimSpace(string(raw.Section)),
		Control:      strings.TrimSpace(string(raw.Control)),
		Requirements: strings.TrimSpace(string(raw.Requirements)),
		Status:       status,
		Tickets:      raw.tickets(),
		ProjectID:    projectID,
		RelatedRisks: raw.relatedRisks(),
		IsActive:     true,
	}
}

// ControlBatch normalizes a batch and enforces the relatedRisks invariant:
// a single empty relatedRisks rejects the entire batch.
func ControlBatch(raws []RawControl, owner, projectID string) ([]models.Control, error) {
	controls := make([]models.Control, 0, len(raws))
	for i, raw := range raws {
		c := Control(raw, owner, projectID)
		if c.RelatedRisks == "" {
			return nil, &InvariantError{Index: i, Code: c.Code}
		}
		controls = append(controls, c)
	}
	return controls, nil
}

// RawRisk is the decode point for risk payloads from the assessment agents.
type RawRisk struct {
	RiskID        str `json:"risk_id"`
	RiskName      str `json:"risk_name"`
	RiskOwner     str `json:"risk_owner"`
	Severity      str `json:"severity"`
	Justification str `json:"justification"`
	Mitigation    str `json:"mitigation"`
	TargetDate    str `json:"target_date"`
}

// Risk produces a persisted-shape risk record tagged with the run's shared
// session and assessment identifiers.
func Risk(raw RawRisk, sessionID, projectID, assessmentID, createdBy string) models.Risk {
	return models.Risk{
		RiskAssessmentID: assessmentID,
		SessionID:        sessionID,
		ProjectID:        projectID,
		RiskName:         strings.TrimSpace(string(raw.RiskName)),
		RiskOwner:        strings.TrimSpace(string(raw.RiskOwner)),
		Severity:         parseSeverity(string(raw.Severity)),
		Justification:    strings.TrimSpace(string(raw.Justification)),
		Mitigation:       strings.TrimSpace(string(raw.Mitigation)),
		TargetDate:       parseDate(string(raw.TargetDate)),
		Status:           DefaultRiskStatus,
		StrategyStatus:   DefaultRiskStatus,
		CreatedBy:        createdBy,
		IsActive:         true,
	}
}

func RiskBatch(raws []RawRisk, sessionID, projectID, assessmentID, createdBy string) []models.Risk {
	risks := make([]models.Risk, 0, len(raws))
	for _, raw := range raws {
		risks = append(risks, Risk(raw, sessionID, projectID, assessmentID, createdBy))
	}
	return risks
}

// parseSeverity clamps into the 1..5 scale the store enforces. Unparseable
// values land on the lowest severity rather than rejecting the risk.
func parseSeverity(s string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 1
	}
	n := int(f)
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
