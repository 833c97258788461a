package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/observe"
)

// DefaultGeminiModel is the model used when none is configured.
const DefaultGeminiModel = "gemini-3-flash-preview"

// Gemini grades transcripts with the Gemini API using a JSON response schema.
type Gemini struct {
	client      *genai.Client
	model       string
	rubric      string
	temperature float32
	metrics     *observe.Metrics
}

var _ exam.Analyzer = (*Gemini)(nil)

type geminiConfig struct {
	model       string
	baseURL     string
	rubric      string
	timeout     time.Duration
	temperature float32
	httpClient  *http.Client
	metrics     *observe.Metrics
}

// GeminiOption configures a [Gemini] analyzer.
type GeminiOption func(*geminiConfig)

// WithGeminiModel overrides [DefaultGeminiModel].
func WithGeminiModel(model string) GeminiOption {
	return func(c *geminiConfig) { c.model = model }
}

// WithGeminiBaseURL points the client at a different API endpoint.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(c *geminiConfig) { c.baseURL = url }
}

// WithGeminiRubric replaces [DefaultRubric].
func WithGeminiRubric(rubric string) GeminiOption {
	return func(c *geminiConfig) { c.rubric = rubric }
}

// WithGeminiTimeout bounds each request.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(c *geminiConfig) { c.timeout = d }
}

// WithGeminiTemperature sets the sampling temperature. Zero keeps the model default.
func WithGeminiTemperature(t float32) GeminiOption {
	return func(c *geminiConfig) { c.temperature = t }
}

// WithGeminiHTTPClient sets the HTTP client used for API calls.
func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(c *geminiConfig) { c.httpClient = hc }
}

// WithGeminiMetrics records analysis latency on m.
func WithGeminiMetrics(m *observe.Metrics) GeminiOption {
	return func(c *geminiConfig) { c.metrics = m }
}

// NewGemini creates a Gemini analyzer authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analysis: gemini: api key must not be empty")
	}
	cfg := geminiConfig{model: DefaultGeminiModel}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if cfg.timeout > 0 {
		cc.HTTPOptions.Timeout = &cfg.timeout
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("analysis: gemini: create client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.model,
		rubric:      cfg.rubric,
		temperature: cfg.temperature,
		metrics:     cfg.metrics,
	}, nil
}

// Analyze implements [exam.Analyzer].
func (g *Gemini) Analyze(ctx context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
	ctx, span := observe.StartSpan(ctx, "analysis.gemini")
	defer span.End()

	start := time.Now()
	a, err := g.analyze(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	g.metrics.RecordAnalysis(ctx, "gemini", status, time.Since(start).Seconds())
	return a, err
}

func (g *Gemini) analyze(ctx context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(BuildPrompt(req, g.rubric), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    reportSchema(),
	}
	if g.temperature != 0 {
		config.Temperature = genai.Ptr(g.temperature)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("analysis: gemini: generate: %w", err)
	}

	a, err := parseReport(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("analysis: gemini: %w", err)
	}
	observe.Logger(ctx).Debug("analysis complete", slog.String("model", g.model), slog.String("grade", a.PredictedGrade))
	return a, nil
}
