package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// loadMemories indexes every stored memory record, soft-deleted ones included so that
// GetMemory keeps returning them
func (r *Redis) loadMemories(ctx context.Context) error {
	records, err := r.client.HGetAll(ctx, redisMemoriesKey).Result()
	if err != nil {
		return goerr.Wrap(err, "failed to load memories")
	}

	for id, raw := range records {
		var m model.Memory
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return goerr.Wrap(err, "failed to decode memory", goerr.V("id", id))
		}
		if err := r.index.PutMemory(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) saveMemory(ctx context.Context, m *model.Memory) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal memory", goerr.V("id", m.ID))
	}
	if err := r.client.HSet(ctx, redisMemoriesKey, string(m.ID), raw).Err(); err != nil {
		return goerr.Wrap(err, "failed to save memory", goerr.V("id", m.ID))
	}
	return nil
}

func (r *Redis) PutMemory(ctx context.Context, memory *model.Memory) error {
	if len(memory.Embedding) == 0 {
		return goerr.Wrap(model.ErrValidation, "memory has no embedding", goerr.V("id", memory.ID))
	}
	if err := r.saveMemory(ctx, memory); err != nil {
		return err
	}
	return r.index.PutMemory(ctx, memory)
}

func (r *Redis) GetMemory(ctx context.Context, id model.MemoryID) (*model.Memory, error) {
	return r.index.GetMemory(ctx, id)
}

func (r *Redis) SearchMemories(ctx context.Context, filter *model.MemoryFilter, embedding []float32, limit int) ([]*model.ScoredMemory, error) {
	return r.index.SearchMemories(ctx, filter, embedding, limit)
}

func (r *Redis) RecentMemories(ctx context.Context, owner string, limit int) ([]*model.Memory, error) {
	return r.index.RecentMemories(ctx, owner, limit)
}

func (r *Redis) ExpiredMemories(ctx context.Context, now time.Time) ([]*model.Memory, error) {
	return r.index.ExpiredMemories(ctx, now)
}

func (r *Redis) DeleteMemory(ctx context.Context, id model.MemoryID, at time.Time) error {
	if err := r.index.DeleteMemory(ctx, id, at); err != nil {
		return err
	}

	m, err := r.index.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	return r.saveMemory(ctx, m)
}
