package memory

import (
	"context"
	"time"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/repository"
)

const (
	DefaultSearchLimit     = 5
	DefaultSearchThreshold = 0.7
	DefaultRecentLimit     = 10

	DefaultProviderTimeout = 30 * time.Second
)

// UseCase provides the memory store operations
type UseCase struct {
	repo      repository.MemoryRepository
	embedder  adapter.Embedder
	dimension int
	timeout   time.Duration
	now       func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithDimension rejects embeddings whose length is not dim
func WithDimension(dim int) Option {
	return func(uc *UseCase) {
		uc.dimension = dim
	}
}

// WithProviderTimeout bounds every embedding call
func WithProviderTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		uc.timeout = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new memory UseCase instance
func New(repo repository.MemoryRepository, embedder adapter.Embedder, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:      repo,
		embedder:  embedder,
		dimension: adapter.DefaultEmbeddingDimension,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

func (u *UseCase) embed(ctx context.Context, text string) ([]float32, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	return adapter.Embed(ctx, u.embedder, text, u.dimension)
}
