package resilience

import (
	"context"

	"github.com/echolabs/oralexam/internal/exam"
)

// AnalyzerFallback is an [exam.Analyzer] that grades with the first healthy
// backend of a [Group].
type AnalyzerFallback struct {
	group *Group[exam.Analyzer]
}

var _ exam.Analyzer = (*AnalyzerFallback)(nil)

// NewAnalyzerFallback returns an analyzer that prefers primary.
func NewAnalyzerFallback(name string, primary exam.Analyzer, cfg BreakerConfig) *AnalyzerFallback {
	return &AnalyzerFallback{group: NewGroup(name, primary, cfg)}
}

// Add registers a fallback analyzer.
func (f *AnalyzerFallback) Add(name string, a exam.Analyzer) {
	f.group.Add(name, a)
}

// Group exposes the underlying group, e.g. for health checks on breaker state.
func (f *AnalyzerFallback) Group() *Group[exam.Analyzer] { return f.group }

// Analyze implements [exam.Analyzer].
func (f *AnalyzerFallback) Analyze(ctx context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
	return Run(ctx, f.group, func(ctx context.Context, a exam.Analyzer) (*exam.Analysis, error) {
		return a.Analyze(ctx, req)
	})
}
