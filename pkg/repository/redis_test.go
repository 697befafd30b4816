package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/m-mizutani/gt"
)

func newRedis(t *testing.T) *repository.Redis {
	t.Helper()
	return openRedis(t, miniredis.RunT(t))
}

func openRedis(t *testing.T, mr *miniredis.Miniredis) *repository.Redis {
	t.Helper()

	repo, err := repository.NewRedis(context.Background(), "redis://"+mr.Addr())
	gt.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRedisMemory(t *testing.T) {
	testMemoryRepository(t, newRedis(t))
}

func TestRedisMemorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	first := openRedis(t, mr)
	kept := newMemory("alice", "prefer shipping on Tuesdays", axis(0, 0.01), "release")
	dropped := newMemory("alice", "coffee after lunch", axis(3, 0.01))
	gt.NoError(t, first.PutMemory(ctx, kept))
	gt.NoError(t, first.PutMemory(ctx, dropped))
	gt.NoError(t, first.DeleteMemory(ctx, dropped.ID, time.Now()))
	gt.NoError(t, first.Close())

	second := openRedis(t, mr)

	results, err := second.SearchMemories(ctx, &model.MemoryFilter{OwnerID: "alice"}, axis(0, 0), 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
	gt.Equal(t, results[0].Memory.ID, kept.ID)
	gt.Equal(t, results[0].Memory.Content, "prefer shipping on Tuesdays")
	gt.True(t, results[0].Memory.Tags["release"])
	gt.True(t, results[0].Similarity > 0.99)

	got, err := second.GetMemory(ctx, dropped.ID)
	gt.NoError(t, err)
	gt.True(t, got.Deleted())

	recent, err := second.RecentMemories(ctx, "alice", 10)
	gt.NoError(t, err)
	gt.A(t, recent).Length(1)
}

func TestRedisDecision(t *testing.T) {
	testDecisionRepository(t, newRedis(t))
}

func TestRedisAgent(t *testing.T) {
	testAgentRepository(t, newRedis(t))
}

func TestComposedRepository(t *testing.T) {
	memories := newInProcess(t)
	repo := repository.Compose(memories, newRedis(t), memories)
	testMemoryRepository(t, repo)
	testDecisionRepository(t, repo)
}

func TestNewRedisInvalidURL(t *testing.T) {
	_, err := repository.NewRedis(context.Background(), "not a url")
	gt.Error(t, err)
}
