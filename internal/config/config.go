// Package config provides the configuration schema, loader, provider registry
// and assessment catalog for the oral exam runner.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TurnOrder selects which role is emitted first when both finish a turn at
// the same moment.
type TurnOrder string

const (
	StudentFirst TurnOrder = "student_first"
	AgentFirst   TurnOrder = "agent_first"
)

// IsValid reports whether o is a recognised order.
func (o TurnOrder) IsValid() bool {
	return o == StudentFirst || o == AgentFirst
}

// Exam converts o to the session option value. The zero value is StudentFirst.
func (o TurnOrder) Exam() exam.TurnOrder {
	if o == AgentFirst {
		return exam.AgentFirst
	}
	return exam.StudentFirst
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Agent       AgentConfig        `yaml:"agent"`
	Analysis    AnalysisConfig     `yaml:"analysis"`
	Audio       AudioConfig        `yaml:"audio"`
	Exam        ExamConfig         `yaml:"exam"`
	Results     ResultsConfig      `yaml:"results"`
	Assessments []AssessmentConfig `yaml:"assessments"`
}

// ServerConfig holds the optional metrics/health listener and logging.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz when set (e.g. ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry is the common configuration block shared by agents and
// analyzers. Name selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Provider names the upstream backend for multi-backend adapters such as
	// "anyllm" (e.g. "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// AgentConfig selects the remote conversational agent.
type AgentConfig struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the prebuilt voice name. Default: Kore.
	Voice string `yaml:"voice"`

	// Fallbacks are tried in order when the primary cannot be reached.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AnalysisConfig selects the transcript grader.
type AnalysisConfig struct {
	ProviderEntry `yaml:",inline"`

	// Timeout bounds one analysis call. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`

	// Rubric replaces the built-in grading rubric when non-empty.
	Rubric string `yaml:"rubric"`

	// LocalFillers fills filler counts from the transcript when the model
	// reports none. Default: true.
	LocalFillers *bool `yaml:"local_fillers"`

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// UseLocalFillers reports the effective LocalFillers setting.
func (a AnalysisConfig) UseLocalFillers() bool {
	return a.LocalFillers == nil || *a.LocalFillers
}

// BreakerConfig tunes the circuit breaker in front of each analyzer.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig describes the local capture and playback formats.
type AudioConfig struct {
	// InputSampleRate is the microphone rate sent to the agent. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the playback rate. Default: 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameSize is the number of samples per outbound frame. Default: 4096.
	FrameSize int `yaml:"frame_size"`
}

// ExamConfig holds session behaviour.
type ExamConfig struct {
	// TurnOrder breaks ties between simultaneous turn completions.
	TurnOrder TurnOrder `yaml:"turn_order"`

	// Minutes is the target length given to the examiner, e.g. "3-5".
	Minutes string `yaml:"minutes"`

	// MaxDuration finishes the exam automatically once reached. Zero disables it.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// ResultsConfig lists where finished results are sent. Any combination may
// be set; with none, results are only printed.
type ResultsConfig struct {
	PostgresDSN  string `yaml:"postgres_dsn"`
	FilePath     string `yaml:"file_path"`
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
}

// AssessmentConfig is one exam in the catalog. The reference notes come from
// Notes or, when that is empty, from the file at NotesFile.
type AssessmentConfig struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Code      string `yaml:"code"`
	Notes     string `yaml:"notes"`
	NotesFile string `yaml:"notes_file"`
}

// Assessment resolves the notes and returns the exam value.
func (a AssessmentConfig) Assessment() (exam.Assessment, error) {
	notes := a.Notes
	if strings.TrimSpace(notes) == "" && a.NotesFile != "" {
		b, err := os.ReadFile(a.NotesFile)
		if err != nil {
			return exam.Assessment{}, fmt.Errorf("config: assessment %q: read notes: %w", a.Code, err)
		}
		notes = string(b)
	}
	return exam.Assessment{ID: a.ID, Title: a.Title, Code: a.Code, Notes: notes}, nil
}

// ApplyDefaults fills zero values with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Agent.Voice == "" {
		c.Agent.Voice = "Kore"
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = 60 * time.Second
	}
	if c.Audio.InputSampleRate == 0 {
		c.Audio.InputSampleRate = 16000
	}
	if c.Audio.OutputSampleRate == 0 {
		c.Audio.OutputSampleRate = 24000
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = exam.DefaultFrameSize
	}
	if c.Exam.TurnOrder == "" {
		c.Exam.TurnOrder = StudentFirst
	}
	for i := range c.Assessments {
		if c.Assessments[i].ID == "" {
			c.Assessments[i].ID = c.Assessments[i].Code
		}
	}
}
