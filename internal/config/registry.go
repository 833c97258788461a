package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/pkg/provider/agent"
	"github.com/echolabs/oralexam/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AgentFactory builds a remote agent from its config entry.
type AgentFactory func(ProviderEntry) (agent.Provider, error)

// LLMFactory builds a text-completion backend.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// AnalyzerFactory builds a transcript grader.
type AnalyzerFactory func(context.Context, AnalysisConfig, ProviderEntry) (exam.Analyzer, error)

// Registry maps provider names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]AgentFactory
	llms      map[string]LLMFactory
	analyzers map[string]AnalyzerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		agents:    make(map[string]AgentFactory),
		llms:      make(map[string]LLMFactory),
		analyzers: make(map[string]AnalyzerFactory),
	}
}

// RegisterAgent registers an agent factory under name, replacing any
// previous registration.
func (r *Registry) RegisterAgent(name string, f AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = f
}

// RegisterLLM registers a text-completion factory under name.
func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llms[name] = f
}

// RegisterAnalyzer registers an analyzer factory under name.
func (r *Registry) RegisterAnalyzer(name string, f AnalyzerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[name] = f
}

// CreateAgent instantiates the agent registered under entry.Name.
func (r *Registry) CreateAgent(entry ProviderEntry) (agent.Provider, error) {
	r.mu.RLock()
	f, ok := r.agents[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: agent/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateLLM instantiates the text-completion backend registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llms[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateAnalyzer instantiates the analyzer registered under entry.Name. cfg
// carries the shared analysis settings (rubric, timeout).
func (r *Registry) CreateAnalyzer(ctx context.Context, cfg AnalysisConfig, entry ProviderEntry) (exam.Analyzer, error) {
	r.mu.RLock()
	f, ok := r.analyzers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: analysis/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(ctx, cfg, entry)
}

// Names returns the sorted registered names for kind ("agent", "llm" or
// "analysis").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "agent":
		for n := range r.agents {
			out = append(out, n)
		}
	case "llm":
		for n := range r.llms {
			out = append(out, n)
		}
	case "analysis":
		for n := range r.analyzers {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}
