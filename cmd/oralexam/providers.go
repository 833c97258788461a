package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/echolabs/oralexam/internal/analysis"
	"github.com/echolabs/oralexam/internal/config"
	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/observe"
	"github.com/echolabs/oralexam/internal/resilience"
	"github.com/echolabs/oralexam/pkg/provider/agent"
	geminiagent "github.com/echolabs/oralexam/pkg/provider/agent/gemini"
	openaiagent "github.com/echolabs/oralexam/pkg/provider/agent/openai"
	"github.com/echolabs/oralexam/pkg/provider/llm"
	"github.com/echolabs/oralexam/pkg/provider/llm/anyllm"
	openaillm "github.com/echolabs/oralexam/pkg/provider/llm/openai"
)

// defaultOpenAIGrader is used by the "openai" analyzer when no model is set.
const defaultOpenAIGrader = "gpt-4o-mini"

// registerBuiltinProviders wires the agents, completion backends and
// analyzers that ship with oralexam into reg.
func registerBuiltinProviders(reg *config.Registry, m *observe.Metrics) {
	// ── Agents ────────────────────────────────────────────────────────────────

	reg.RegisterAgent(geminiagent.Name, func(e config.ProviderEntry) (agent.Provider, error) {
		if e.APIKey == "" {
			return nil, errors.New("api_key is required")
		}
		var opts []geminiagent.Option
		if e.Model != "" {
			opts = append(opts, geminiagent.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, geminiagent.WithBaseURL(e.BaseURL))
		}
		return geminiagent.New(e.APIKey, opts...), nil
	})

	reg.RegisterAgent(openaiagent.Name, func(e config.ProviderEntry) (agent.Provider, error) {
		if e.APIKey == "" {
			return nil, errors.New("api_key is required")
		}
		var opts []openaiagent.Option
		if e.Model != "" {
			opts = append(opts, openaiagent.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, openaiagent.WithBaseURL(e.BaseURL))
		}
		if tm := optString(e.Options, "transcription_model"); tm != "" {
			opts = append(opts, openaiagent.WithTranscriptionModel(tm))
		}
		return openaiagent.New(e.APIKey, opts...), nil
	})

	// ── Completion backends ───────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		model := e.Model
		if model == "" {
			model = defaultOpenAIGrader
		}
		var opts []openaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(e.BaseURL))
		}
		if org := optString(e.Options, "organization"); org != "" {
			opts = append(opts, openaillm.WithOrganization(org))
		}
		return openaillm.New(e.APIKey, model, opts...)
	})

	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		if e.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
		}
		return anyllm.New(e.Provider, e.Model, opts...)
	})

	// ── Analyzers ─────────────────────────────────────────────────────────────

	reg.RegisterAnalyzer("gemini", func(ctx context.Context, cfg config.AnalysisConfig, e config.ProviderEntry) (exam.Analyzer, error) {
		opts := []analysis.GeminiOption{analysis.WithGeminiMetrics(m)}
		if e.Model != "" {
			opts = append(opts, analysis.WithGeminiModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, analysis.WithGeminiBaseURL(e.BaseURL))
		}
		if cfg.Rubric != "" {
			opts = append(opts, analysis.WithGeminiRubric(cfg.Rubric))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, analysis.WithGeminiTimeout(cfg.Timeout))
		}
		return analysis.NewGemini(ctx, e.APIKey, opts...)
	})

	for _, name := range []string{"openai", "anyllm"} {
		reg.RegisterAnalyzer(name, func(_ context.Context, cfg config.AnalysisConfig, e config.ProviderEntry) (exam.Analyzer, error) {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, err
			}
			label := name
			if e.Provider != "" {
				label = name + "/" + e.Provider
			}
			opts := []analysis.LLMOption{analysis.WithLLMName(label), analysis.WithLLMMetrics(m)}
			if cfg.Rubric != "" {
				opts = append(opts, analysis.WithLLMRubric(cfg.Rubric))
			}
			return analysis.NewLLM(p, opts...)
		})
	}

	for _, kind := range []string{"agent", "llm", "analysis"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildAgent creates the configured agent, wrapped in a fallback chain when
// fallbacks are listed.
func buildAgent(cfg *config.Config, reg *config.Registry) (agent.Provider, error) {
	primary, err := reg.CreateAgent(cfg.Agent.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create agent %q: %w", cfg.Agent.Name, err)
	}
	if len(cfg.Agent.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewAgentFallback(primary, resilience.BreakerConfig{Name: "agent"})
	for _, e := range cfg.Agent.Fallbacks {
		if e.APIKey == "" && e.Name == cfg.Agent.Name {
			e.APIKey = cfg.Agent.APIKey
		}
		p, err := reg.CreateAgent(e)
		if err != nil {
			return nil, fmt.Errorf("create fallback agent %q: %w", e.Name, err)
		}
		fb.Add(p)
	}
	return fb, nil
}

// analyzerChain is the analyzer handed to the session plus the fallback
// group behind it, kept for readiness checks.
type analyzerChain struct {
	exam.Analyzer
	group *resilience.Group[exam.Analyzer]
}

// buildAnalyzer creates the configured analyzer chain: circuit-broken
// fallbacks, local filler counting and an overall timeout.
func buildAnalyzer(ctx context.Context, cfg *config.Config, reg *config.Registry) (*analyzerChain, error) {
	ac := cfg.Analysis
	bc := resilience.BreakerConfig{
		Name:         "analysis",
		MaxFailures:  ac.Breaker.MaxFailures,
		ResetTimeout: ac.Breaker.ResetTimeout,
	}

	primary, err := reg.CreateAnalyzer(ctx, ac, ac.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create analyzer %q: %w", ac.Name, err)
	}
	fb := resilience.NewAnalyzerFallback(ac.Name, primary, bc)
	for _, e := range ac.Fallbacks {
		if e.APIKey == "" && e.Name == ac.Name {
			e.APIKey = ac.APIKey
		}
		a, err := reg.CreateAnalyzer(ctx, ac, e)
		if err != nil {
			return nil, fmt.Errorf("create fallback analyzer %q: %w", e.Name, err)
		}
		fb.Add(fallbackLabel(e), a)
	}

	var a exam.Analyzer = fb
	if ac.UseLocalFillers() {
		a = analysis.WithLocalFillers(a)
	}
	return &analyzerChain{Analyzer: withTimeout(a, ac.Timeout), group: fb.Group()}, nil
}

// withTimeout bounds every Analyze call on a by d.
func withTimeout(a exam.Analyzer, d time.Duration) exam.Analyzer {
	if d <= 0 {
		return a
	}
	return exam.AnalyzerFunc(func(ctx context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return a.Analyze(ctx, req)
	})
}

// fallbackLabel names a fallback member uniquely enough for breaker lookups.
func fallbackLabel(e config.ProviderEntry) string {
	switch {
	case e.Provider != "":
		return e.Name + "/" + e.Provider
	case e.Model != "":
		return e.Name + "/" + e.Model
	}
	return e.Name
}

// ready reports an error when every analyzer's breaker is open.
func (c *analyzerChain) ready(context.Context) error {
	for _, name := range c.group.Names() {
		if c.group.Breaker(name).State() != resilience.StateOpen {
			return nil
		}
	}
	return resilience.ErrCircuitOpen
}

// optString extracts a string option, or "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
