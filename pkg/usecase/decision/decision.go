package decision

import (
	"context"
	"time"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/policy"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/lifeops/lifeops/pkg/usecase/memory"
)

const (
	DefaultContextLimit = 3
	DefaultListLimit    = 20
	DefaultConcurrency  = 4
)

// UseCase orchestrates the decision lifecycle: creation, context attachment, agent
// consultation and synthesis
type UseCase struct {
	repo     repository.Repository
	provider adapter.Provider
	memories *memory.UseCase

	runtime *agent.Runtime
	planner *policy.Planner
	archive adapter.Storage

	dimension   int
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithRuntime enables agent consultations in Decide
func WithRuntime(rt *agent.Runtime) Option {
	return func(uc *UseCase) {
		uc.runtime = rt
	}
}

// WithPlanner lets a consultation policy choose the agents Decide consults
func WithPlanner(p *policy.Planner) Option {
	return func(uc *UseCase) {
		uc.planner = p
	}
}

// WithArchive enables Export
func WithArchive(s adapter.Storage) Option {
	return func(uc *UseCase) {
		uc.archive = s
	}
}

// WithDimension rejects question embeddings whose length is not dim
func WithDimension(dim int) Option {
	return func(uc *UseCase) {
		uc.dimension = dim
	}
}

// WithProviderTimeout bounds every embedding and completion call
func WithProviderTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		uc.timeout = d
	}
}

// WithConcurrency bounds the consultations running at once
func WithConcurrency(n int) Option {
	return func(uc *UseCase) {
		uc.concurrency = n
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new decision UseCase instance
func New(repo repository.Repository, provider adapter.Provider, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:        repo,
		provider:    provider,
		dimension:   adapter.DefaultEmbeddingDimension,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	memOpts := []memory.Option{
		memory.WithDimension(uc.dimension),
		memory.WithClock(uc.now),
	}
	if uc.timeout > 0 {
		memOpts = append(memOpts, memory.WithProviderTimeout(uc.timeout))
	}
	uc.memories = memory.New(repo, provider, memOpts...)

	return uc
}

func (u *UseCase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout > 0 {
		return context.WithTimeout(ctx, u.timeout)
	}
	return ctx, func() {}
}
