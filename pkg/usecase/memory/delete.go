package memory

import (
	"context"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Delete soft-deletes a memory
func (u *UseCase) Delete(ctx context.Context, id model.MemoryID) error {
	if err := u.repo.DeleteMemory(ctx, id, u.now()); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	return nil
}

// PurgeExpired soft-deletes every memory whose expiry has passed and returns how many
func (u *UseCase) PurgeExpired(ctx context.Context) (int, error) {
	now := u.now()
	expired, err := u.repo.ExpiredMemories(ctx, now)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list expired memories")
	}

	for _, m := range expired {
		if err := u.repo.DeleteMemory(ctx, m.ID, now); err != nil {
			return 0, goerr.Wrap(err, "failed to purge expired memory", goerr.V("id", m.ID))
		}
	}

	if len(expired) > 0 {
		logging.From(ctx).Info("purged expired memories", "count", len(expired))
	}
	return len(expired), nil
}
