package system

import (
	"context"
	"sort"
	"time"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const Slug = "system-core"

const (
	CommandChat        = "chat"
	CommandEcho        = "echo"
	CommandHealthCheck = "health_check"
)

// Manifest is the registry descriptor of the system agent
func Manifest() model.AgentDescriptor {
	priority := 100
	enabled := true
	return model.AgentDescriptor{
		Slug:        Slug,
		Name:        "System Agent",
		Description: "Handles core system maintenance, summaries, and orchestration tasks.",
		Version:     "1.0.0",
		Capabilities: []model.Capability{
			{Name: CommandHealthCheck, Description: "Verifies system components are operational"},
			{Name: CommandChat, Description: "Conversational capability using the configured completer"},
		},
		Config: &model.AgentConfigPatch{
			Priority: &priority,
			Enabled:  &enabled,
		},
	}
}

// Probe checks one component for health_check. A nil error means healthy.
type Probe func(ctx context.Context) error

// Agent is the built-in agent every decision can consult
type Agent struct {
	completer adapter.Completer
	probes    map[string]Probe
	now       func() time.Time
}

var _ agent.Agent = (*Agent)(nil)

type Option func(*Agent)

// WithProbe adds a component checked by health_check
func WithProbe(component string, probe Probe) Option {
	return func(a *Agent) {
		a.probes[component] = probe
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

func New(completer adapter.Completer, opts ...Option) *Agent {
	a := &Agent{
		completer: completer,
		probes:    make(map[string]Probe),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Execute(ctx context.Context, input *agent.Context) (*agent.Result, error) {
	switch input.Command {
	case CommandChat, CommandEcho:
		return a.chat(ctx, input)
	case CommandHealthCheck:
		return a.healthCheck(ctx), nil
	default:
		return agent.Fail("Unknown command: %s", input.Command), nil
	}
}

func (a *Agent) chat(ctx context.Context, input *agent.Context) (*agent.Result, error) {
	message := input.String("message")
	if message == "" {
		return agent.Fail("message is required for %s", input.Command), nil
	}

	reply, err := a.completer.Complete(ctx, message)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to complete message", goerr.V("command", input.Command))
	}

	return agent.Succeed(map[string]any{
		"message":   reply,
		"timestamp": a.now().UTC().Format(time.RFC3339),
	}), nil
}

func (a *Agent) healthCheck(ctx context.Context) *agent.Result {
	components := map[string]any{
		"database": "connected",
		"provider": "configured",
		"memory":   "operational",
	}

	names := make([]string, 0, len(a.probes))
	for name := range a.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	for _, name := range names {
		if err := a.probes[name](ctx); err != nil {
			components[name] = "error: " + err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	return agent.Succeed(map[string]any{
		"status":     status,
		"components": components,
	})
}
