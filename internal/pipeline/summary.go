package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/govmatrix/backend/internal/storage/models"
)

// baselineOrder fixes the rendering order of the well-known questionnaire
// keys; dynamic keys follow in lexicographic order.
var baselineOrder = []string{
	"requestOwner",
	"projectType",
	"projectName",
	"region",
	"purpose",
	"dateRange",
	"delayFactors",
	"subSystemType",
}

var baselineLabels = map[string]string{
	"requestOwner":  "Name and country",
	"projectType":   "Project type (in-house vs third-party)",
	"projectName":   "Project Name",
	"region":        "Geographic regions",
	"purpose":       "AI system objective",
	"dateRange":     "Project timeline",
	"delayFactors":  "Potential delays",
	"subSystemType": "Learning model",
}

// buildSummary renders questionnaire answers as "label: value" lines. Label
// resolution falls back through baseline labels, then the question catalog,
// then a generic placeholder. Empty answers are skipped.
func (p *Pipeline) buildSummary(answers models.Answers) (string, error) {
	keys := answerKeys(answers)

	catalog, err := p.db.GetQuestionsByIDs(keys)
	if err != nil {
		return "", fmt.Errorf("failed to resolve question labels: %w", err)
	}

	var b strings.Builder
	for _, key := range orderedKeys(keys) {
		val, rendered := renderAnswer(answers[key])
		if !rendered {
			continue
		}

		label := baselineLabels[key]
		if label == "" {
			if q, ok := catalog[key]; ok {
				label = q.Text
			} else {
				label = fmt.Sprintf("Question (%s)", key)
			}
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(val)
		b.WriteString("\n")
	}

	return b.String(), nil
}

func answerKeys(answers models.Answers) []string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	return keys
}

// orderedKeys returns baseline keys in their canonical order followed by the
// remaining keys sorted, so the summary is deterministic.
func orderedKeys(keys []string) []string {
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}

	ordered := make([]string, 0, len(keys))
	for _, k := range baselineOrder {
		if present[k] {
			ordered = append(ordered, k)
			delete(present, k)
		}
	}

	rest := make([]string, 0, len(present))
	for k := range present {
		rest = append(rest, k)
	}
	sort.Strings(rest)

	return append(ordered, rest...)
}

// renderAnswer formats a single answer value. The second return is false for
// values that should not produce a summary line.
func renderAnswer(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case bool:
		return "true", t
	case float64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case []interface{}:
		if len(t) == 0 {
			return "", false
		}
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := renderAnswer(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0
	case map[string]interface{}:
		name, _ := t["name"].(string)
		country, _ := t["country"].(string)
		if name != "" && country != "" {
			return fmt.Sprintf("%s from %s", name, country), true
		}
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}
