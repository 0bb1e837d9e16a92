package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SystemPrompt pins the response to the Report schema.
const SystemPrompt = `You are an expert agricultural AI assistant.
Analyze the provided crop disease detection data and provide professional, actionable advice.
Respond ONLY with a valid JSON object matching this structure exactly:
{
  "report_overview": "A short, simple abstract paragraph summarizing the major findings and overarching conclusion of the crop analysis.",
  "treatments": [
    {"title": "Title 1", "description": "Actionable step 1"}
  ],
  "risk_analysis": [
    {"label": "Spread Probability", "value": "High/Medium/Low (Percentage)", "severity": "high/medium/low"},
    {"label": "Economic Impact", "value": "Severe/Moderate/Minor", "severity": "high/medium/low"},
    {"label": "Next Scan Recommended", "value": "Timeframe", "severity": "info"}
  ]
}
Do not include any other text or markdown formatting before or after the JSON.
`

type Treatment struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type Risk struct {
	Label    string `json:"label" validate:"required"`
	Value    string `json:"value" validate:"required"`
	Severity string `json:"severity" validate:"required"`
}

type Report struct {
	ReportOverview string      `json:"report_overview" validate:"required"`
	Treatments     []Treatment `json:"treatments" validate:"required,min=1,dive"`
	RiskAnalysis   []Risk      `json:"risk_analysis" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses raw model output into a Report. Anything that is not a single JSON object
// with every required field fails with ErrInvalidReport.
func Decode(raw string) (Report, error) {
	var r Report
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	if err := dec.Decode(&r); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if dec.More() {
		return Report{}, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidReport)
	}
	if err := validate.Struct(r); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return r, nil
}

// BuildPrompt renders the user prompt from an analysis payload. It prefers the aggregated
// disease_summary and falls back to a raw diseases list.
func BuildPrompt(analysis map[string]any) (string, error) {
	if len(analysis) == 0 {
		return "", ErrNoAnalysis
	}
	var data any = analysis["disease_summary"]
	if isEmpty(data) {
		data = analysis["diseases"]
		if data == nil {
			data = []any{}
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	return fmt.Sprintf("Detection Summary:\n%s\nBased on this data, please provide recommended treatments and risk analysis.",
		strings.TrimRight(buf.String(), "\n")), nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
