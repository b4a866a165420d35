package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, 5*time.Second, 5*time.Second, 5*time.Second)
}

func TestFamilyFromUseCase(t *testing.T) {
	tests := []struct {
		in   string
		want Family
	}{
		{"AI System", FamilyAI},
		{"Cybersecurity Management System", FamilyCyber},
		{"Third-party Cybersecurity System", FamilyCyber},
		{"third-party CYBER system", FamilyCyber},
		{"", FamilyAI},
		{"something else", FamilyAI},
	}

	for _, tt := range tests {
		if got := FamilyFromUseCase(tt.in); got != tt.want {
			t.Errorf("FamilyFromUseCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveRisksHitsFamilyPath(t *testing.T) {
	var gotPath string
	var gotReq RiskDerivationRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"risk_assessment_id": "RA-1",
			"parsed_risks": []map[string]interface{}{
				{"risk_id": "R-1", "risk_name": "Data leakage", "severity": "4"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	out, err := client.DeriveRisks(context.Background(), FamilyCyber, RiskDerivationRequest{
		SessionID: "sess-1",
		ProjectID: "CB-0001",
		Summary:   "summary text",
	})
	if err != nil {
		t.Fatalf("DeriveRisks returned error: %v", err)
	}

	if gotPath != "/agent/cyber/risk" {
		t.Errorf("path = %q, want /agent/cyber/risk", gotPath)
	}
	if gotReq.SessionID != "sess-1" || gotReq.ProjectID != "CB-0001" {
		t.Errorf("request not forwarded: %+v", gotReq)
	}
	if out.RiskAssessmentID != "RA-1" {
		t.Errorf("RiskAssessmentID = %q, want RA-1", out.RiskAssessmentID)
	}
	if len(out.ParsedRisks) != 1 || string(out.ParsedRisks[0].RiskName) != "Data leakage" {
		t.Errorf("parsed risks not decoded: %+v", out.ParsedRisks)
	}
}

func TestDeriveControlsUpstreamStatusPreserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.DeriveControls(context.Background(), FamilyAI, ControlDerivationRequest{SessionID: "sess-1"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", upstream.Status)
	}
	if upstream.Stage != "controls" {
		t.Errorf("Stage = %q, want controls", upstream.Stage)
	}
	if upstream.Detail != "model overloaded" {
		t.Errorf("Detail = %q, want body text", upstream.Detail)
	}
}

func TestNetworkFailureIsBadGateway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(server.URL)
	_, err := client.DeriveRisks(context.Background(), FamilyAI, RiskDerivationRequest{})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", upstream.Status)
	}
}

func TestAssessGovernanceRetriesOnce(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/agent/governance/assess" {
			t.Errorf("path = %q, want /agent/governance/assess", r.URL.Path)
		}
		if calls == 1 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"scores":  map[string]float64{"EU": 70, "NIST": 60, "ISO": 80},
			"overall": 70,
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	report, err := client.AssessGovernance(context.Background(), GovernancePayload{})
	if err != nil {
		t.Fatalf("AssessGovernance returned error: %v", err)
	}

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if report.Scores == nil || report.Scores.EU != 70 {
		t.Errorf("scores not decoded: %+v", report.Scores)
	}
	if report.Overall != 70 {
		t.Errorf("Overall = %v, want 70", report.Overall)
	}
}

func TestAssessGovernanceGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.AssessGovernance(context.Background(), GovernancePayload{})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if upstream.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", upstream.Status)
	}
}

func TestInvalidJSONResponseIsBadGateway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.DeriveRisks(context.Background(), FamilyAI, RiskDerivationRequest{})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", upstream.Status)
	}
}
