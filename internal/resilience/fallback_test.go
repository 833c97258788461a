package resilience_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/resilience"
	"github.com/echolabs/oralexam/pkg/provider/agent"
	agentmock "github.com/echolabs/oralexam/pkg/provider/agent/mock"
)

var errBackend = errors.New("backend down")

func TestRun_PrimaryWins(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("primary", "p", resilience.BreakerConfig{})
	g.Add("secondary", "s")

	got, err := resilience.Run(context.Background(), g, func(_ context.Context, v string) (string, error) {
		return v, nil
	})
	if err != nil || got != "p" {
		t.Errorf("Run = %q, %v; want p, nil", got, err)
	}
	if names := g.Names(); len(names) != 2 || names[0] != "primary" || names[1] != "secondary" {
		t.Errorf("Names = %v", names)
	}
}

func TestRun_FallsThrough(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("primary", "p", resilience.BreakerConfig{})
	g.Add("secondary", "s")

	var tried []string
	got, err := resilience.Run(context.Background(), g, func(_ context.Context, v string) (string, error) {
		tried = append(tried, v)
		if v == "p" {
			return "", errBackend
		}
		return v, nil
	})
	if err != nil || got != "s" {
		t.Fatalf("Run = %q, %v; want s, nil", got, err)
	}
	if strings.Join(tried, ",") != "p,s" {
		t.Errorf("tried = %v", tried)
	}
}

func TestRun_AllFail(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("primary", 1, resilience.BreakerConfig{})
	g.Add("secondary", 2)

	_, err := resilience.Run(context.Background(), g, func(context.Context, int) (int, error) {
		return 0, errBackend
	})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errBackend) {
		t.Errorf("err = %v, want the backend error wrapped", err)
	}
	if !strings.Contains(err.Error(), "primary") || !strings.Contains(err.Error(), "secondary") {
		t.Errorf("err = %q, want both member names", err)
	}
}

func TestRun_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("primary", "p", resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	g.Add("secondary", "s")

	calls := map[string]int{}
	fn := func(_ context.Context, v string) (string, error) {
		calls[v]++
		if v == "p" {
			return "", errBackend
		}
		return v, nil
	}
	for range 3 {
		if _, err := resilience.Run(context.Background(), g, fn); err != nil {
			t.Fatal(err)
		}
	}
	if calls["p"] != 1 || calls["s"] != 3 {
		t.Errorf("calls = %v, want primary once then skipped", calls)
	}
	if g.Breaker("primary").State() != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", g.Breaker("primary").State())
	}
	if g.Breaker("missing") != nil {
		t.Error("Breaker returned a value for an unknown member")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("primary", "p", resilience.BreakerConfig{})
	g.Add("secondary", "s")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := resilience.Run(ctx, g, func(ctx context.Context, v string) (string, error) {
		tried = append(tried, v)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}

func TestAnalyzerFallback(t *testing.T) {
	t.Parallel()

	primary := exam.AnalyzerFunc(func(context.Context, exam.AnalysisRequest) (*exam.Analysis, error) {
		return nil, errBackend
	})
	secondary := exam.AnalyzerFunc(func(_ context.Context, req exam.AnalysisRequest) (*exam.Analysis, error) {
		return &exam.Analysis{PredictedGrade: "B", Feedback: req.ReferenceMaterial}, nil
	})

	f := resilience.NewAnalyzerFallback("gemini", primary, resilience.BreakerConfig{})
	f.Add("anyllm", secondary)

	a, err := f.Analyze(context.Background(), exam.AnalysisRequest{ReferenceMaterial: "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if a.PredictedGrade != "B" || a.Feedback != "notes" {
		t.Errorf("analysis = %+v", a)
	}
	if f.Group().Breaker("gemini") == nil {
		t.Error("primary breaker missing")
	}
}

func TestAgentFallback(t *testing.T) {
	t.Parallel()

	primary := &agentmock.Provider{ProviderName: "gemini-live", ConnectErr: errBackend}
	secondary := &agentmock.Provider{ProviderName: "openai-realtime"}

	f := resilience.NewAgentFallback(primary, resilience.BreakerConfig{})
	f.Add(secondary)

	if f.Name() != "gemini-live" {
		t.Errorf("Name = %q, want the primary's", f.Name())
	}

	sess, err := f.Connect(context.Background(), agent.Config{Voice: "Kore"}, func(agent.Event) {})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sess != agent.Session(secondary.Session(0)) {
		t.Error("session did not come from the fallback")
	}
	if primary.ConnectCallCount() != 1 || secondary.ConnectCallCount() != 1 {
		t.Errorf("connect calls = %d/%d, want 1/1", primary.ConnectCallCount(), secondary.ConnectCallCount())
	}
	if got := secondary.ConnectCalls[0].Cfg.Voice; got != "Kore" {
		t.Errorf("fallback config voice = %q", got)
	}
}
