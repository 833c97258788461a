package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/echolabs/oralexam/internal/exam"
)

// Filler word keys as reported in [exam.Analysis.FillerWords].
const (
	FillerUm      = "um"
	FillerUh      = "uh"
	FillerLike    = "like"
	FillerYouKnow = "you know"
)

// reportSchemaName identifies the response schema to backends that name it.
const reportSchemaName = "assessment_report"

// errNoJSON is returned when a reply contains no JSON object at all.
var errNoJSON = errors.New("reply contains no JSON object")

// wireReport is the JSON shape the models are asked to produce. Counts are
// decoded as float64 because some models emit 3.0 for integer fields.
type wireReport struct {
	PredictedGrade string `json:"predictedGrade"`
	FillerWords    struct {
		Um      float64 `json:"um"`
		Uh      float64 `json:"uh"`
		Like    float64 `json:"like"`
		YouKnow float64 `json:"youKnow"`
	} `json:"fillerWords"`
	TotalFillerCount float64 `json:"totalFillerCount"`
	PauseCount       float64 `json:"pauseCount"`
	Feedback         string  `json:"feedback"`
}

// reportSchema is the Gemini response schema for wireReport.
func reportSchema() *genai.Schema {
	count := func() *genai.Schema { return &genai.Schema{Type: genai.TypeNumber} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"predictedGrade": {Type: genai.TypeString},
			"fillerWords": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"um":      count(),
					"uh":      count(),
					"like":    count(),
					"youKnow": count(),
				},
			},
			"totalFillerCount": count(),
			"pauseCount":       count(),
			"feedback":         {Type: genai.TypeString},
		},
		PropertyOrdering: []string{"predictedGrade", "fillerWords", "totalFillerCount", "pauseCount", "feedback"},
		Required:         []string{"predictedGrade", "fillerWords", "totalFillerCount", "pauseCount", "feedback"},
	}
}

// reportJSONSchema is the same shape as reportSchema in JSON Schema form.
// Every property is required and additional properties are rejected so the
// schema is accepted by strict structured-output backends.
func reportJSONSchema() map[string]any {
	number := map[string]any{"type": "number"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"predictedGrade": map[string]any{"type": "string", "enum": []string{"A", "B", "C", "D", "F"}},
			"fillerWords": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"um":      number,
					"uh":      number,
					"like":    number,
					"youKnow": number,
				},
				"required":             []string{"um", "uh", "like", "youKnow"},
				"additionalProperties": false,
			},
			"totalFillerCount": number,
			"pauseCount":       number,
			"feedback":         map[string]any{"type": "string"},
		},
		"required":             []string{"predictedGrade", "fillerWords", "totalFillerCount", "pauseCount", "feedback"},
		"additionalProperties": false,
	}
}

// parseReport decodes a model reply into an Analysis. Markdown code fences
// and any prose around the outermost JSON object are ignored.
func parseReport(text string) (*exam.Analysis, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, errNoJSON
	}

	var w wireReport
	if err := json.Unmarshal([]byte(text[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	grade := strings.ToUpper(strings.TrimSpace(w.PredictedGrade))
	if grade == "" {
		return nil, fmt.Errorf("decode report: predictedGrade is empty")
	}

	a := &exam.Analysis{
		PredictedGrade: grade,
		FillerWords: map[string]int{
			FillerUm:      count(w.FillerWords.Um),
			FillerUh:      count(w.FillerWords.Uh),
			FillerLike:    count(w.FillerWords.Like),
			FillerYouKnow: count(w.FillerWords.YouKnow),
		},
		TotalFillerCount: count(w.TotalFillerCount),
		PauseCount:       count(w.PauseCount),
		Feedback:         strings.TrimSpace(w.Feedback),
	}
	if a.TotalFillerCount == 0 {
		a.TotalFillerCount = sum(a.FillerWords)
	}
	return a, nil
}

func count(f float64) int {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(f))
}

func sum(m map[string]int) int {
	var n int
	for _, v := range m {
		n += v
	}
	return n
}
