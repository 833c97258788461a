package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/echolabs/oralexam/internal/config"
	"github.com/echolabs/oralexam/internal/exam"
)

const minimalYAML = `
agent:
  name: gemini-live
analysis:
  name: gemini
assessments:
  - code: BIO101
    notes: Photosynthesis converts light into chemical energy.
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Agent.Voice != "Kore" {
		t.Errorf("voice = %q, want Kore", cfg.Agent.Voice)
	}
	if cfg.Analysis.Timeout != 60*time.Second {
		t.Errorf("analysis timeout = %v, want 60s", cfg.Analysis.Timeout)
	}
	if !cfg.Analysis.UseLocalFillers() {
		t.Error("local fillers should default to on")
	}
	if cfg.Audio.InputSampleRate != 16000 || cfg.Audio.OutputSampleRate != 24000 {
		t.Errorf("sample rates = %d/%d, want 16000/24000", cfg.Audio.InputSampleRate, cfg.Audio.OutputSampleRate)
	}
	if cfg.Audio.FrameSize != exam.DefaultFrameSize {
		t.Errorf("frame size = %d, want %d", cfg.Audio.FrameSize, exam.DefaultFrameSize)
	}
	if cfg.Exam.TurnOrder != config.StudentFirst || cfg.Exam.TurnOrder.Exam() != exam.StudentFirst {
		t.Errorf("turn order = %q, want student_first", cfg.Exam.TurnOrder)
	}
	if cfg.Assessments[0].ID != "BIO101" {
		t.Errorf("assessment id = %q, want the code", cfg.Assessments[0].ID)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	const y = `
server:
  listen_addr: ":9090"
  log_level: debug
agent:
  name: openai-realtime
  model: gpt-realtime
  voice: alloy
  fallbacks:
    - name: gemini-live
analysis:
  name: anyllm
  provider: anthropic
  timeout: 30s
  local_fillers: false
  breaker:
    max_failures: 5
    reset_timeout: 1m
  fallbacks:
    - name: gemini
audio:
  frame_size: 2048
exam:
  turn_order: agent_first
  minutes: "3-5"
  max_duration: 10m
results:
  file_path: results.jsonl
assessments:
  - id: a-1
    title: Cell biology
    code: BIO101
    notes: Mitochondria.
`
	cfg, err := config.LoadFromReader(strings.NewReader(y))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Agent.Name != "openai-realtime" || cfg.Agent.Model != "gpt-realtime" || cfg.Agent.Voice != "alloy" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if len(cfg.Agent.Fallbacks) != 1 || cfg.Agent.Fallbacks[0].Name != "gemini-live" {
		t.Errorf("agent fallbacks = %+v", cfg.Agent.Fallbacks)
	}
	if cfg.Analysis.Provider != "anthropic" || cfg.Analysis.Timeout != 30*time.Second {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Analysis.UseLocalFillers() {
		t.Error("local_fillers: false was ignored")
	}
	if cfg.Analysis.Breaker.MaxFailures != 5 || cfg.Analysis.Breaker.ResetTimeout != time.Minute {
		t.Errorf("breaker = %+v", cfg.Analysis.Breaker)
	}
	if cfg.Audio.FrameSize != 2048 {
		t.Errorf("frame size = %d", cfg.Audio.FrameSize)
	}
	if cfg.Exam.TurnOrder.Exam() != exam.AgentFirst || cfg.Exam.MaxDuration != 10*time.Minute {
		t.Errorf("exam = %+v", cfg.Exam)
	}
	if cfg.Assessments[0].ID != "a-1" {
		t.Errorf("explicit id overwritten: %q", cfg.Assessments[0].ID)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "bogus: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
	if !strings.Contains(err.Error(), "agent.name is required") {
		t.Errorf("err = %v, want the missing agent reported", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "missing providers",
			yaml: "assessments: []\n",
			want: []string{"agent.name is required", "analysis.name is required"},
		},
		{
			name: "anyllm without provider",
			yaml: "agent:\n  name: gemini-live\nanalysis:\n  name: anyllm\n",
			want: []string{"analysis.provider is required for anyllm"},
		},
		{
			name: "fallback without name",
			yaml: "agent:\n  name: gemini-live\n  fallbacks:\n    - model: x\nanalysis:\n  name: gemini\n  fallbacks:\n    - name: anyllm\n",
			want: []string{"agent.fallbacks[0].name is required", "analysis.fallbacks[0].provider is required"},
		},
		{
			name: "sample rate out of range",
			yaml: "agent:\n  name: gemini-live\nanalysis:\n  name: gemini\naudio:\n  input_sample_rate: 4000\n",
			want: []string{"audio.input_sample_rate 4000"},
		},
		{
			name: "negative values",
			yaml: "agent:\n  name: gemini-live\nanalysis:\n  name: gemini\n  timeout: -1s\naudio:\n  frame_size: -1\nexam:\n  max_duration: -1m\n",
			want: []string{"analysis.timeout", "audio.frame_size", "exam.max_duration"},
		},
		{
			name: "bad turn order",
			yaml: "agent:\n  name: gemini-live\nanalysis:\n  name: gemini\nexam:\n  turn_order: whoever\n",
			want: []string{"exam.turn_order"},
		},
		{
			name: "assessment problems",
			yaml: "agent:\n  name: gemini-live\nanalysis:\n  name: gemini\nassessments:\n  - code: A\n    notes: x\n  - code: A\n    notes: y\n  - notes: z\n  - code: B\n",
			want: []string{"duplicate", "assessments[2].code is required", "assessments[3]: one of notes or notes_file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Agent.APIKey = "from-file"
	cfg.Results.FilePath = "keep.jsonl"

	err := config.ApplyEnv(cfg, map[string]string{
		"ORALEXAM_AGENT_API_KEY":    "from-env",
		"ORALEXAM_ANALYSIS_API_KEY": "analysis-key",
		"ORALEXAM_POSTGRES_DSN":     "postgres://localhost/exams",
		"ORALEXAM_WEBHOOK_URL":      "https://example.test/hook",
		"ORALEXAM_WEBHOOK_TOKEN":    "secret",
		"ORALEXAM_LOG_LEVEL":        "debug",
		"ORALEXAM_LISTEN_ADDR":      ":9090",
		"AGENT_API_KEY":             "unprefixed-is-ignored",
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Agent.APIKey != "from-env" {
		t.Errorf("agent key = %q, want env to win", cfg.Agent.APIKey)
	}
	if cfg.Analysis.APIKey != "analysis-key" {
		t.Errorf("analysis key = %q", cfg.Analysis.APIKey)
	}
	if cfg.Results.PostgresDSN != "postgres://localhost/exams" || cfg.Results.FilePath != "keep.jsonl" {
		t.Errorf("results = %+v", cfg.Results)
	}
	if cfg.Results.WebhookURL != "https://example.test/hook" || cfg.Results.WebhookToken != "secret" {
		t.Errorf("webhook = %q / %q", cfg.Results.WebhookURL, cfg.Results.WebhookToken)
	}
	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestApplyEnv_EmptyKeepsFile(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Agent.APIKey = "from-file"
	if err := config.ApplyEnv(cfg, map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.APIKey != "from-file" {
		t.Errorf("agent key = %q, want the file value kept", cfg.Agent.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestAssessmentConfig_NotesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("The French Revolution began in 1789."), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := config.AssessmentConfig{ID: "h1", Code: "HIST", NotesFile: path}.Assessment()
	if err != nil {
		t.Fatalf("Assessment: %v", err)
	}
	if a.Notes != "The French Revolution began in 1789." || a.Code != "HIST" || a.ID != "h1" {
		t.Errorf("assessment = %+v", a)
	}

	_, err = config.AssessmentConfig{Code: "X", NotesFile: filepath.Join(t.TempDir(), "gone.md")}.Assessment()
	if err == nil {
		t.Error("expected error for unreadable notes file")
	}
}

func TestLoadFromReader_ExampleConfig(t *testing.T) {
	t.Parallel()

	f, err := os.Open(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("open example: %v", err)
	}
	defer f.Close()

	cfg, err := config.LoadFromReader(f)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Agent.Fallbacks) != 1 || len(cfg.Analysis.Fallbacks) != 2 {
		t.Errorf("fallbacks = %d agent, %d analysis", len(cfg.Agent.Fallbacks), len(cfg.Analysis.Fallbacks))
	}
	if cfg.Analysis.Breaker.ResetTimeout != time.Minute || cfg.Exam.MaxDuration != 15*time.Minute {
		t.Errorf("durations = %v, %v", cfg.Analysis.Breaker.ResetTimeout, cfg.Exam.MaxDuration)
	}
	if _, err := cfg.Assessment("bio101"); err != nil {
		t.Errorf("Assessment(bio101): %v", err)
	}
}
