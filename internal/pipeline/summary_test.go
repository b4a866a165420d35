package pipeline

import (
	"strings"
	"testing"

	"github.com/govmatrix/backend/internal/storage/models"
)

func TestBuildSummaryBaselineLabels(t *testing.T) {
	db := newTestStore(t)
	p := NewPipeline(db, nil, nil)

	answers := models.Answers{
		"projectName":  "Fraud Detection",
		"requestOwner": map[string]interface{}{"name": "Maria", "country": "Portugal"},
		"region":       []interface{}{"EU", "APAC"},
		"purpose":      "catch fraud",
	}

	summary, err := p.buildSummary(answers)
	if err != nil {
		t.Fatalf("buildSummary failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(summary, "\n"), "\n")
	want := []string{
		"Name and country: Maria from Portugal",
		"Project Name: Fraud Detection",
		"Geographic regions: EU, APAC",
		"AI system objective: catch fraud",
	}
	if len(lines) != len(want) {
		t.Fatalf("summary lines = %d, want %d:\n%s", len(lines), len(want), summary)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestBuildSummaryCatalogFallback(t *testing.T) {
	db := newTestStore(t)
	p := NewPipeline(db, nil, nil)

	if err := db.InsertQuestion(&models.Question{
		ID: "q-retention", Text: "How long is data retained?", Order: 1, IsActive: true,
	}); err != nil {
		t.Fatalf("InsertQuestion failed: %v", err)
	}

	answers := models.Answers{
		"q-retention": "90 days",
		"q-unknown":   "something",
	}

	summary, err := p.buildSummary(answers)
	if err != nil {
		t.Fatalf("buildSummary failed: %v", err)
	}

	if !strings.Contains(summary, "How long is data retained?: 90 days") {
		t.Errorf("catalog label not used:\n%s", summary)
	}
	if !strings.Contains(summary, "Question (q-unknown): something") {
		t.Errorf("placeholder label not used:\n%s", summary)
	}
}

func TestBuildSummarySkipsEmptyValues(t *testing.T) {
	db := newTestStore(t)
	p := NewPipeline(db, nil, nil)

	answers := models.Answers{
		"projectName":  "Kept",
		"purpose":      "",
		"delayFactors": []interface{}{},
		"dateRange":    nil,
	}

	summary, err := p.buildSummary(answers)
	if err != nil {
		t.Fatalf("buildSummary failed: %v", err)
	}

	if strings.Count(summary, "\n") != 1 {
		t.Errorf("expected a single line, got:\n%q", summary)
	}
	if !strings.HasPrefix(summary, "Project Name: Kept") {
		t.Errorf("unexpected summary:\n%s", summary)
	}
}

func TestRenderAnswerVariants(t *testing.T) {
	tests := []struct {
		name     string
		in       interface{}
		want     string
		rendered bool
	}{
		{"string", "hello", "hello", true},
		{"blank string", "   ", "", false},
		{"true bool", true, "true", true},
		{"false bool", false, "", false},
		{"number", 4.5, "4.5", true},
		{"zero number", 0.0, "", false},
		{"array", []interface{}{"a", "b"}, "a, b", true},
		{"name country object", map[string]interface{}{"name": "Li", "country": "Singapore"}, "Li from Singapore", true},
		{"plain object", map[string]interface{}{"k": "v"}, `{"k":"v"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rendered := renderAnswer(tt.in)
			if rendered != tt.rendered {
				t.Fatalf("rendered = %v, want %v", rendered, tt.rendered)
			}
			if rendered && got != tt.want {
				t.Errorf("value = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateProjectIDPrefixes(t *testing.T) {
	tests := []struct {
		template string
		prefix   string
	}{
		{models.TemplateAISystem, "AI-"},
		{models.TemplateCyberMgmtSystem, "CB-"},
		{models.TemplateThirdPartyAI, "AT-"},
		{models.TemplateThirdPartyCyber, "CT-"},
		{"anything else", "P-"},
	}

	for _, tt := range tests {
		id := generateProjectID(tt.template)
		if !strings.HasPrefix(id, tt.prefix) {
			t.Errorf("generateProjectID(%q) = %q, want prefix %q", tt.template, id, tt.prefix)
		}
		if len(id) != len(tt.prefix)+4 {
			t.Errorf("generateProjectID(%q) = %q, want 4-digit suffix", tt.template, id)
		}
	}
}
