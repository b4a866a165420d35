package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/govmatrix/backend/internal/agent"
	"github.com/govmatrix/backend/internal/normalize"
	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return db
}

// agentStub serves the three assessment endpoints with configurable
// per-stage responses.
type agentStub struct {
	riskStatus       int
	controlsStatus   int
	governanceStatus int
	governanceBody   string
	calls            map[string]int
}

func newAgentStub() *agentStub {
	return &agentStub{calls: map[string]int{}}
}

func (s *agentStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/risk"):
			s.calls["risk"]++
			if s.riskStatus != 0 {
				http.Error(w, "risk agent down", s.riskStatus)
				return
			}
			w.Write([]byte(`{
				"risk_assessment_id": "RA-1",
				"parsed_risks": [
					{"risk_id":"R-1","risk_name":"Data leakage","risk_owner":"bob","severity":"4","justification":"PII in scope","mitigation":"encrypt"},
					{"risk_id":"R-2","risk_name":"Bias","severity":"3"}
				]
			}`))
		case strings.HasSuffix(r.URL.Path, "/controls"):
			s.calls["controls"]++
			if s.controlsStatus != 0 {
				http.Error(w, "controls agent down", s.controlsStatus)
				return
			}
			w.Write([]byte(`{
				"parsed_controls": [
					{"code":"C-1","section":"Data","control":"Encrypt data","requirements":"AES-256","status":"Implemented","relatedRisks":"R-1"},
					{"code":"C-2","section":"Model","control":"Bias review","related_risks":["R-2"]}
				]
			}`))
		case strings.HasSuffix(r.URL.Path, "/assess"):
			s.calls["governance"]++
			if s.governanceStatus != 0 {
				http.Error(w, "governance agent down", s.governanceStatus)
				return
			}
			body := s.governanceBody
			if body == "" {
				body = `{"scores":{"EU":72.5,"NIST":68,"ISO":80},"overall":73.5}`
			}
			w.Write([]byte(body))
		default:
			t.Errorf("unexpected agent path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func newTestPipeline(t *testing.T, stub *agentStub) (*Pipeline, *sqlite.Client) {
	t.Helper()
	db := newTestStore(t)
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)
	agents := agent.NewClient(server.URL, 5*time.Second, 5*time.Second, 5*time.Second)
	return NewPipeline(db, agents, nil), db
}

func TestProcessFullRun(t *testing.T) {
	stub := newAgentStub()
	p, db := newTestPipeline(t, stub)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Fraud Detection", "purpose": "catch fraud"},
		UseCaseType: models.TemplateAISystem,
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if !strings.HasPrefix(result.ProjectID, "AI-") {
		t.Errorf("ProjectID = %q, want AI- prefix", result.ProjectID)
	}
	if result.RiskAssessmentID != "RA-1" {
		t.Errorf("RiskAssessmentID = %q, want RA-1", result.RiskAssessmentID)
	}
	if len(result.Risks) != 2 {
		t.Fatalf("risk count = %d, want 2", len(result.Risks))
	}
	if len(result.Controls) != 2 {
		t.Fatalf("control count = %d, want 2", len(result.Controls))
	}

	// Fresh controls always start unimplemented, even when the agent
	// claimed otherwise.
	for _, c := range result.Controls {
		if c.Status != normalize.DefaultControlStatus {
			t.Errorf("control %s Status = %q, want %q", c.Code, c.Status, normalize.DefaultControlStatus)
		}
	}

	project, err := db.GetProject(result.ProjectID)
	if err != nil {
		t.Fatalf("project not persisted: %v", err)
	}
	if project.ProjectName != "Fraud Detection" {
		t.Errorf("ProjectName = %q", project.ProjectName)
	}
	if project.Status != "Opened" {
		t.Errorf("Status = %q, want Opened", project.Status)
	}

	if result.GovernanceReport.Error != "" {
		t.Fatalf("unexpected degraded report: %q", result.GovernanceReport.Error)
	}
	snapshot, err := db.GetLatestScore(result.ProjectID)
	if err != nil {
		t.Fatalf("score snapshot not persisted: %v", err)
	}
	if snapshot.OverallScore != 73.5 || snapshot.EUScore != 72.5 {
		t.Errorf("snapshot scores = %+v", snapshot)
	}
	if snapshot.TotalControlsCount != 2 || snapshot.ImplementedControlsCount != 0 {
		t.Errorf("snapshot counts = %d/%d, want 0/2", snapshot.ImplementedControlsCount, snapshot.TotalControlsCount)
	}
}

func TestProcessDefaultsProjectName(t *testing.T) {
	stub := newAgentStub()
	p, db := newTestPipeline(t, stub)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"purpose": "triage tickets"},
		UseCaseType: "unknown template",
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if !strings.HasPrefix(result.ProjectID, "P-") {
		t.Errorf("ProjectID = %q, want P- fallback prefix", result.ProjectID)
	}
	project, err := db.GetProject(result.ProjectID)
	if err != nil {
		t.Fatalf("project not persisted: %v", err)
	}
	if project.ProjectName != "AI Risk Project" {
		t.Errorf("ProjectName = %q, want default", project.ProjectName)
	}
}

func TestProcessAbortsWhenControlsAgentFails(t *testing.T) {
	stub := newAgentStub()
	stub.controlsStatus = http.StatusInternalServerError
	p, db := newTestPipeline(t, stub)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Doomed"},
		UseCaseType: models.TemplateAISystem,
		CreatedBy:   "alice",
	})

	var upstream *agent.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Stage != "controls" || upstream.Status != http.StatusInternalServerError {
		t.Errorf("upstream = %+v", upstream)
	}
	if result.SessionID == "" {
		t.Error("failed run should still carry its session id")
	}

	// Risks from the earlier stage are kept; no controls were written.
	risks, err := db.GetRisksBySession(result.SessionID)
	if err != nil {
		t.Fatalf("GetRisksBySession failed: %v", err)
	}
	if len(risks) != 2 {
		t.Errorf("risk count = %d, want 2", len(risks))
	}
	if stub.calls["governance"] != 0 {
		t.Errorf("governance agent called %d times after abort", stub.calls["governance"])
	}
}

func TestProcessDegradesWhenGovernanceFails(t *testing.T) {
	stub := newAgentStub()
	stub.governanceStatus = http.StatusInternalServerError
	p, db := newTestPipeline(t, stub)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Resilient"},
		UseCaseType: models.TemplateCyberMgmtSystem,
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("governance failure must not fail the run: %v", err)
	}

	if !strings.HasPrefix(result.ProjectID, "CB-") {
		t.Errorf("ProjectID = %q, want CB- prefix", result.ProjectID)
	}
	if result.GovernanceReport == nil || result.GovernanceReport.Error != "Failed to generate governance report." {
		t.Errorf("GovernanceReport = %+v, want degraded placeholder", result.GovernanceReport)
	}
	if len(result.Controls) != 2 {
		t.Errorf("controls must survive governance failure, got %d", len(result.Controls))
	}
	if _, err := db.GetLatestScore(result.ProjectID); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("degraded run must not persist a snapshot, got %v", err)
	}
}

func TestProcessDegradesWhenReportCarriesError(t *testing.T) {
	stub := newAgentStub()
	stub.governanceBody = `{"error":"insufficient context"}`
	p, db := newTestPipeline(t, stub)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Partial"},
		UseCaseType: models.TemplateAISystem,
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if result.GovernanceReport.Error != "Failed to generate governance report." {
		t.Errorf("report = %+v, want degraded placeholder", result.GovernanceReport)
	}
	if _, err := db.GetLatestScore(result.ProjectID); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("expected no snapshot, got %v", err)
	}
}

func TestProcessRejectsInvalidControlBatch(t *testing.T) {
	db := newTestStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/risk"):
			w.Write([]byte(`{"risk_assessment_id":"RA-1","parsed_risks":[]}`))
		case strings.HasSuffix(r.URL.Path, "/controls"):
			w.Write([]byte(`{"parsed_controls":[{"code":"C-1","relatedRisks":"R-1"},{"code":"C-2"}]}`))
		default:
			t.Errorf("unexpected call to %q", r.URL.Path)
		}
	}))
	defer server.Close()

	agents := agent.NewClient(server.URL, 5*time.Second, 5*time.Second, 5*time.Second)
	p := NewPipeline(db, agents, nil)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Strict"},
		UseCaseType: models.TemplateAISystem,
		CreatedBy:   "alice",
	})

	var invariant *normalize.InvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if invariant.Index != 1 {
		t.Errorf("Index = %d, want 1", invariant.Index)
	}

	controls, err := db.GetControlsByProject(result.ProjectID)
	if err != nil {
		t.Fatalf("GetControlsByProject failed: %v", err)
	}
	if len(controls) != 0 {
		t.Errorf("rejected batch must not persist controls, got %d", len(controls))
	}
}

func TestRecalculatePersistsNewerSnapshot(t *testing.T) {
	stub := newAgentStub()
	p, db := newTestPipeline(t, stub)

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Evolving"},
		UseCaseType: models.TemplateAISystem,
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	status := "Implemented"
	if _, err := db.UpdateControl(result.Controls[0].ID, sqlite.ControlPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateControl failed: %v", err)
	}

	stub.governanceBody = `{"scores":{"EU":90,"NIST":85,"ISO":95},"overall":90}`
	snapshot, err := p.Recalculate(context.Background(), result.ProjectID)
	if err != nil {
		t.Fatalf("Recalculate returned error: %v", err)
	}

	if snapshot.OverallScore != 90 {
		t.Errorf("OverallScore = %v, want 90", snapshot.OverallScore)
	}
	if snapshot.ImplementedControlsCount != 1 || snapshot.TotalControlsCount != 2 {
		t.Errorf("counts = %d/%d, want 1/2", snapshot.ImplementedControlsCount, snapshot.TotalControlsCount)
	}

	history, err := db.GetScoreHistory(result.ProjectID, 10)
	if err != nil {
		t.Fatalf("GetScoreHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (append-only)", len(history))
	}
	if history[0].OverallScore != 90 {
		t.Errorf("latest snapshot = %v, want the recalculated one", history[0].OverallScore)
	}

	latest, err := db.GetLatestScore(result.ProjectID)
	if err != nil {
		t.Fatalf("GetLatestScore failed: %v", err)
	}
	if latest.OverallScore != 90 {
		t.Errorf("GetLatestScore = %v, want 90", latest.OverallScore)
	}
}

func TestRecalculatePropagatesFailures(t *testing.T) {
	stub := newAgentStub()
	p, db := newTestPipeline(t, stub)

	if _, err := p.Recalculate(context.Background(), "missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown project, got %v", err)
	}

	result, err := p.Process(context.Background(), ProcessRequest{
		Answers:     models.Answers{"projectName": "Flaky"},
		UseCaseType: models.TemplateAISystem,
		CreatedBy:   "alice",
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	stub.governanceStatus = http.StatusBadGateway
	if _, err := p.Recalculate(context.Background(), result.ProjectID); err == nil {
		t.Fatal("expected recalculation to propagate the governance failure")
	}

	history, err := db.GetScoreHistory(result.ProjectID, 10)
	if err != nil {
		t.Fatalf("GetScoreHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("failed recalculation must not append a snapshot, got %d", len(history))
	}
}

func TestGovernancePayloadShape(t *testing.T) {
	db := newTestStore(t)
	p := NewPipeline(db, nil, nil)

	if err := db.InsertQuestion(&models.Question{
		ID: "q-data", Text: "Is personal data processed?", Tags: []string{"privacy"},
		Weights: map[string]float64{"EU": 2, "NIST": 1, "ISO": 1}, Order: 1, IsActive: true,
	}); err != nil {
		t.Fatalf("InsertQuestion failed: %v", err)
	}

	answers := models.Answers{"q-data": "yes", "freeform": "extra context"}
	controls := []models.Control{
		{Code: "C-1", Requirements: "AES-256", Status: "Implemented"},
		{Code: "C-2", Status: "Not Implemented"},
		{Code: "", Status: "Implemented"},
	}

	payload, err := p.buildGovernancePayload(answers, controls)
	if err != nil {
		t.Fatalf("buildGovernancePayload failed: %v", err)
	}

	if len(payload.Questions) != 1 || payload.Questions[0].ID != "q-data" {
		t.Errorf("questions = %+v, want only the catalog-resolved key", payload.Questions)
	}
	if payload.Questions[0].Weights["EU"] != 2 {
		t.Errorf("catalog weights not used: %+v", payload.Questions[0].Weights)
	}
	if payload.Answers["freeform"] != "extra context" {
		t.Errorf("unresolved keys must stay in answers: %+v", payload.Answers)
	}

	if len(payload.Controls) != 2 {
		t.Fatalf("controls = %d, want 2 (empty code skipped)", len(payload.Controls))
	}
	c1 := payload.Controls["C-1"]
	if c1.Desc != "AES-256" || !c1.Evidence {
		t.Errorf("C-1 = %+v", c1)
	}
	c2 := payload.Controls["C-2"]
	if c2.Desc != "N/A" || c2.Evidence {
		t.Errorf("C-2 = %+v", c2)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("payload must be marshalable: %v", err)
	}
	if !strings.Contains(string(data), `"evidence":true`) {
		t.Errorf("serialized payload missing evidence flag: %s", data)
	}
}

func TestIsEvidenced(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"Compliant", true},
		{"Implemented", true},
		{"In Progress", true},
		{"Not Implemented", false},
		{"Rejected", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEvidenced(tt.status); got != tt.want {
			t.Errorf("IsEvidenced(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
