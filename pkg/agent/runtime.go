package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Runtime is the agent registry plus the execution guard around bound implementations
type Runtime struct {
	repo repository.AgentRepository

	mu    sync.RWMutex
	impls map[string]Agent

	retryInterval time.Duration
	now           func() time.Time
}

type Option func(*Runtime)

// WithRetryInterval sets the wait before the first retry. Each further retry doubles it.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Runtime) {
		r.retryInterval = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		r.now = now
	}
}

// New creates a runtime backed by repo
func New(repo repository.AgentRepository, opts ...Option) *Runtime {
	r := &Runtime{
		repo:          repo,
		impls:         make(map[string]Agent),
		retryInterval: 500 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts the descriptor by slug. The config is merged over the defaults. ID and
// CreatedAt of an existing registration are kept.
func (r *Runtime) Register(ctx context.Context, desc model.AgentDescriptor) (*model.Agent, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	record := &model.Agent{
		ID:           model.NewAgentID(),
		Slug:         desc.Slug,
		Name:         desc.Name,
		Description:  desc.Description,
		Version:      desc.Version,
		Capabilities: desc.Capabilities,
		Config:       desc.Config.Merge(model.DefaultAgentConfig()),
		Metadata:     desc.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.repo.UpsertAgent(ctx, record); err != nil {
		return nil, goerr.Wrap(err, "failed to register agent", goerr.V("slug", desc.Slug))
	}

	logging.From(ctx).Debug("agent registered",
		"slug", record.Slug,
		"id", record.ID,
		"version", record.Version,
	)
	return record, nil
}

// Resolve returns the registry record of slug
func (r *Runtime) Resolve(ctx context.Context, slug string) (*model.Agent, error) {
	record, err := r.repo.GetAgent(ctx, slug)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve agent", goerr.V("slug", slug))
	}
	return record, nil
}

// List returns enabled agents, highest priority first
func (r *Runtime) List(ctx context.Context) ([]*model.Agent, error) {
	all, err := r.repo.ListAgents(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list agents")
	}

	agents := make([]*model.Agent, 0, len(all))
	for _, a := range all {
		if a.Config.Enabled {
			agents = append(agents, a)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].Config.Priority != agents[j].Config.Priority {
			return agents[i].Config.Priority > agents[j].Config.Priority
		}
		return agents[i].Slug < agents[j].Slug
	})
	return agents, nil
}

// Bind attaches the implementation used when slug is executed
func (r *Runtime) Bind(slug string, impl Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[slug] = impl
}

// Bound reports whether slug has an implementation
func (r *Runtime) Bound(slug string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.impls[slug]
	return ok
}

// Install registers desc and binds impl to its slug
func (r *Runtime) Install(ctx context.Context, desc model.AgentDescriptor, impl Agent) (*model.Agent, error) {
	record, err := r.Register(ctx, desc)
	if err != nil {
		return nil, err
	}
	r.Bind(record.Slug, impl)
	return record, nil
}

func (r *Runtime) impl(slug string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[slug]
	return impl, ok
}
