package memory

import (
	"context"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Recent returns the newest memories of owner. Zero limit means 10.
func (u *UseCase) Recent(ctx context.Context, owner string, limit int) ([]*model.Memory, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	memories, err := u.repo.RecentMemories(ctx, owner, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get recent memories", goerr.V("owner", owner))
	}
	return memories, nil
}

// Get returns one memory. Soft-deleted memories are reported as not found.
func (u *UseCase) Get(ctx context.Context, id model.MemoryID) (*model.Memory, error) {
	memory, err := u.repo.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if memory.Deleted() {
		return nil, goerr.Wrap(model.ErrNotFound, "memory is deleted", goerr.V("id", id))
	}
	return memory, nil
}
