package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/observe"
	"github.com/echolabs/oralexam/pkg/provider/llm"
)

// LLM grades transcripts through any text-completion [llm.Provider].
type LLM struct {
	provider    llm.Provider
	name        string
	rubric      string
	temperature float64
	metrics     *observe.Metrics
}

var _ exam.Analyzer = (*LLM)(nil)

// LLMOption configures an [LLM] analyzer.
type LLMOption func(*LLM)

// WithLLMName sets the provider label used in logs and metrics. Default "llm".
func WithLLMName(name string) LLMOption {
	return func(a *LLM) { a.name = name }
}

// WithLLMRubric replaces [DefaultRubric].
func WithLLMRubric(rubric string) LLMOption {
	return func(a *LLM) { a.rubric = rubric }
}

// WithLLMTemperature sets the sampling temperature.
func WithLLMTemperature(t float64) LLMOption {
	return func(a *LLM) { a.temperature = t }
}

// WithLLMMetrics records analysis latency on m.
func WithLLMMetrics(m *observe.Metrics) LLMOption {
	return func(a *LLM) { a.metrics = m }
}

// NewLLM returns an analyzer backed by p.
func NewLLM(p llm.Provider, opts ...LLMOption) (*LLM, error) {
	if p == nil {
		return nil, fmt.Errorf("analysis: llm provider must not be nil")
	}
	a := &LLM{provider: p, name: "llm", temperature: 0.2}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Analyze implements [exam.Analyzer].
func (a *LLM) Analyze(ctx context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
	ctx, span := observe.StartSpan(ctx, "analysis."+a.name)
	defer span.End()

	start := time.Now()
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: BuildPrompt(req, a.rubric)}},
		Temperature:  a.temperature,
		Schema:       &llm.Schema{Name: reportSchemaName, Definition: reportJSONSchema()},
	})
	var result *exam.Analysis
	if err == nil {
		result, err = parseReport(resp.Content)
		if err == nil {
			observe.Logger(ctx).Debug("analysis complete",
				slog.String("provider", a.name),
				slog.String("grade", result.PredictedGrade),
				slog.Int("tokens", resp.Usage.TotalTokens))
		}
	}

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	a.metrics.RecordAnalysis(ctx, a.name, status, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("analysis: %s: %w", a.name, err)
	}
	return result, nil
}
