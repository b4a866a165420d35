package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/normalize"
	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/pkg/circuitbreaker"
	"github.com/govmatrix/backend/pkg/logger"
	"github.com/govmatrix/backend/pkg/retry"
)

// Family selects which pair of hosted risk/control agents a run talks to.
// It is decided once per run at project creation and threaded through.
type Family string

const (
	FamilyAI    Family = "ai"
	FamilyCyber Family = "cyber"
)

// FamilyFromUseCase maps a free-text use-case type to a Family. Anything
// mentioning "cyber" routes to the cyber agents, everything else to ai.
func FamilyFromUseCase(useCaseType string) Family {
	if strings.Contains(strings.ToLower(useCaseType), "cyber") {
		return FamilyCyber
	}
	return FamilyAI
}

// UpstreamError carries the status and detail of a failed agent call.
// Network-level failures surface as status 502.
type UpstreamError struct {
	Stage  string
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s agent call failed with status %d: %s", e.Stage, e.Status, e.Detail)
}

type Client struct {
	baseURL           string
	httpClient        *http.Client
	riskTimeout       time.Duration
	controlsTimeout   time.Duration
	governanceTimeout time.Duration
	breakers          map[string]*circuitbreaker.CircuitBreaker
	retryConfig       retry.Config
}

func NewClient(baseURL string, riskTimeout, controlsTimeout, governanceTimeout time.Duration) *Client {
	breakers := make(map[string]*circuitbreaker.CircuitBreaker)
	for _, stage := range []string{"risk", "controls", "governance"} {
		breakers[stage] = circuitbreaker.New(stage, circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Logger:           logger.GetLogger(),
		})
	}

	logger.Info("Assessment agent client initialized", zap.String("base_url", baseURL))

	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		httpClient:        &http.Client{},
		riskTimeout:       riskTimeout,
		controlsTimeout:   controlsTimeout,
		governanceTimeout: governanceTimeout,
		breakers:          breakers,
		retryConfig: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Logger:       logger.GetLogger(),
		},
	}
}

type RiskDerivationRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	Summary   string `json:"summary"`
}

type RiskDerivation struct {
	RiskAssessmentID string              `json:"risk_assessment_id"`
	ParsedRisks      []normalize.RawRisk `json:"parsed_risks"`
}

type ControlDerivationRequest struct {
	SessionID        string   `json:"session_id"`
	ProjectID        string   `json:"project_id"`
	RiskAssessmentID string   `json:"risk_assessment_id"`
	RiskIDs          []string `json:"risk_ids"`
}

type ControlDerivation struct {
	ParsedControls []normalize.RawControl `json:"parsed_controls"`
}

type GovernanceQuestion struct {
	ID      string             `json:"id"`
	Text    string             `json:"text"`
	Tags    []string           `json:"tags"`
	Weights map[string]float64 `json:"weights"`
}

type GovernanceControl struct {
	Desc     string             `json:"desc"`
	Evidence bool               `json:"evidence"`
	Weights  map[string]float64 `json:"weights"`
}

type GovernancePayload struct {
	Questions []GovernanceQuestion         `json:"questions"`
	Answers   models.Answers               `json:"answers"`
	Controls  map[string]GovernanceControl `json:"controls"`
}

type GovernanceScores struct {
	EU   float64 `json:"EU"`
	NIST float64 `json:"NIST"`
	ISO  float64 `json:"ISO"`
}

// GovernanceReport is the scoring agent's response. A run that degrades
// carries only the Error field.
type GovernanceReport struct {
	Scores  *GovernanceScores `json:"scores,omitempty"`
	Overall float64           `json:"overall,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// DeriveRisks calls POST /agent/{family}/risk.
func (c *Client) DeriveRisks(ctx context.Context, family Family, req RiskDerivationRequest) (*RiskDerivation, error) {
	var out RiskDerivation
	url := fmt.Sprintf("%s/agent/%s/risk", c.baseURL, family)
	err := c.breakers["risk"].Execute(ctx, func() error {
		return c.postJSON(ctx, "risk", url, c.riskTimeout, req, &out)
	})
	if err != nil {
		return nil, asUpstream("risk", err)
	}
	return &out, nil
}

// DeriveControls calls POST /agent/{family}/controls.
func (c *Client) DeriveControls(ctx context.Context, family Family, req ControlDerivationRequest) (*ControlDerivation, error) {
	var out ControlDerivation
	url := fmt.Sprintf("%s/agent/%s/controls", c.baseURL, family)
	err := c.breakers["controls"].Execute(ctx, func() error {
		return c.postJSON(ctx, "controls", url, c.controlsTimeout, req, &out)
	})
	if err != nil {
		return nil, asUpstream("controls", err)
	}
	return &out, nil
}

// AssessGovernance calls POST /agent/governance/assess. The call is retried
// once on failure; scoring is idempotent on the agent side.
func (c *Client) AssessGovernance(ctx context.Context, payload GovernancePayload) (*GovernanceReport, error) {
	var out GovernanceReport
	url := fmt.Sprintf("%s/agent/governance/assess", c.baseURL)
	err := c.breakers["governance"].Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			return c.postJSON(ctx, "governance", url, c.governanceTimeout, payload, &out)
		})
	})
	if err != nil {
		return nil, asUpstream("governance", err)
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, stage, url string, timeout time.Duration, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", stage, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", stage, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Stage: stage, Status: http.StatusBadGateway, Detail: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Stage: stage, Status: http.StatusBadGateway, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("Agent call returned non-2xx",
			zap.String("stage", stage),
			zap.Int("status", resp.StatusCode),
		)
		return &UpstreamError{Stage: stage, Status: resp.StatusCode, Detail: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{Stage: stage, Status: http.StatusBadGateway, Detail: fmt.Sprintf("invalid agent response: %v", err)}
	}

	return nil
}

// asUpstream folds circuit breaker rejections and other non-HTTP errors into
// the upstream error shape so callers deal with a single failure type.
func asUpstream(stage string, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	return &UpstreamError{Stage: stage, Status: http.StatusBadGateway, Detail: err.Error()}
}
