package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORALEXAM_"

// ValidProviderNames lists the built-in provider names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"agent":    {"gemini-live", "openai-realtime"},
	"analysis": {"gemini", "openai", "anyllm"},
}

// envOverrides are secrets and deployment settings that may come from the
// environment instead of the YAML file. Set variables win over the file.
type envOverrides struct {
	AgentAPIKey    string `env:"AGENT_API_KEY"`
	AnalysisAPIKey string `env:"ANALYSIS_API_KEY"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	WebhookURL     string `env:"WEBHOOK_URL"`
	WebhookToken   string `env:"WEBHOOK_TOKEN"`
	LogLevel       string `env:"LOG_LEVEL"`
	ListenAddr     string `env:"LISTEN_ADDR"`
}

// Load reads a .env file from the working directory if one exists, then the
// YAML configuration at path, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays ORALEXAM_* variables onto cfg. environ replaces the
// process environment when non-nil.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Agent.APIKey, o.AgentAPIKey)
	set(&cfg.Analysis.APIKey, o.AnalysisAPIKey)
	set(&cfg.Results.PostgresDSN, o.PostgresDSN)
	set(&cfg.Results.WebhookURL, o.WebhookURL)
	set(&cfg.Results.WebhookToken, o.WebhookToken)
	set(&cfg.Server.ListenAddr, o.ListenAddr)
	if o.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(o.LogLevel)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Agent.Name == "" {
		errs = append(errs, errors.New("agent.name is required"))
	}
	validateProviderName("agent", cfg.Agent.Name)
	for i, fb := range cfg.Agent.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("agent.fallbacks[%d].name is required", i))
		}
		validateProviderName("agent", fb.Name)
	}

	if cfg.Analysis.Name == "" {
		errs = append(errs, errors.New("analysis.name is required"))
	}
	validateProviderName("analysis", cfg.Analysis.Name)
	for i, fb := range append([]ProviderEntry{cfg.Analysis.ProviderEntry}, cfg.Analysis.Fallbacks...) {
		prefix := "analysis"
		if i > 0 {
			prefix = fmt.Sprintf("analysis.fallbacks[%d]", i-1)
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			}
			validateProviderName("analysis", fb.Name)
		}
		if fb.Name == "anyllm" && fb.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required for anyllm", prefix))
		}
	}
	if cfg.Analysis.Timeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout %v must not be negative", cfg.Analysis.Timeout))
	}
	if cfg.Analysis.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("analysis.breaker.max_failures %d must not be negative", cfg.Analysis.Breaker.MaxFailures))
	}

	for _, r := range []struct {
		name string
		v    int
	}{
		{"audio.input_sample_rate", cfg.Audio.InputSampleRate},
		{"audio.output_sample_rate", cfg.Audio.OutputSampleRate},
	} {
		if r.v != 0 && (r.v < 8000 || r.v > 48000) {
			errs = append(errs, fmt.Errorf("%s %d is out of range [8000, 48000]", r.name, r.v))
		}
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}

	if cfg.Exam.TurnOrder != "" && !cfg.Exam.TurnOrder.IsValid() {
		errs = append(errs, fmt.Errorf("exam.turn_order %q is invalid; valid values: student_first, agent_first", cfg.Exam.TurnOrder))
	}
	if cfg.Exam.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("exam.max_duration %v must not be negative", cfg.Exam.MaxDuration))
	}

	codes := make(map[string]int, len(cfg.Assessments))
	for i, a := range cfg.Assessments {
		prefix := fmt.Sprintf("assessments[%d]", i)
		if a.Code == "" {
			errs = append(errs, fmt.Errorf("%s.code is required", prefix))
		} else {
			if prev, ok := codes[a.Code]; ok {
				errs = append(errs, fmt.Errorf("%s.code %q is a duplicate of assessments[%d]", prefix, a.Code, prev))
			}
			codes[a.Code] = i
		}
		if a.Notes == "" && a.NotesFile == "" {
			errs = append(errs, fmt.Errorf("%s: one of notes or notes_file is required", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
