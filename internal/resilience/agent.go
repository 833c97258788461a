package resilience

import (
	"context"

	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// AgentFallback is an [agent.Provider] that connects to the first agent that
// accepts the session. Only the dial is covered: once a session is open,
// failures are reported through its Handler like any other.
type AgentFallback struct {
	group *Group[agent.Provider]
}

var _ agent.Provider = (*AgentFallback)(nil)

// NewAgentFallback returns a provider that prefers primary.
func NewAgentFallback(primary agent.Provider, cfg BreakerConfig) *AgentFallback {
	return &AgentFallback{group: NewGroup(primary.Name(), primary, cfg)}
}

// Add registers a fallback agent under its own name.
func (f *AgentFallback) Add(p agent.Provider) {
	f.group.Add(p.Name(), p)
}

// Group exposes the underlying group.
func (f *AgentFallback) Group() *Group[agent.Provider] { return f.group }

// Connect implements [agent.Provider].
func (f *AgentFallback) Connect(ctx context.Context, cfg agent.Config, h agent.Handler) (agent.Session, error) {
	return Run(ctx, f.group, func(ctx context.Context, p agent.Provider) (agent.Session, error) {
		return p.Connect(ctx, cfg, h)
	})
}

// Name implements [agent.Provider]; it reports the primary's name.
func (f *AgentFallback) Name() string {
	return f.group.members[0].name
}
