package repository_test

import (
	"context"
	"testing"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/m-mizutani/gt"
)

func newInProcess(t *testing.T) *repository.InProcess {
	repo, err := repository.NewInProcess()
	gt.NoError(t, err)
	return repo
}

func TestInProcessMemory(t *testing.T) {
	testMemoryRepository(t, newInProcess(t))
}

func TestInProcessDecision(t *testing.T) {
	testDecisionRepository(t, newInProcess(t))
}

func TestInProcessAgent(t *testing.T) {
	testAgentRepository(t, newInProcess(t))
}

func TestInProcessSearchEmpty(t *testing.T) {
	repo := newInProcess(t)

	results, err := repo.SearchMemories(context.Background(), nil, axis(0, 0), 5)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)
}

func TestInProcessSearchLimitAboveCount(t *testing.T) {
	repo := newInProcess(t)
	ctx := context.Background()

	gt.NoError(t, repo.PutMemory(ctx, newMemory("alice", "only one", axis(1, 0))))

	results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: "alice"}, axis(1, 0), 50)
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
}

func TestInProcessReturnsCopies(t *testing.T) {
	repo := newInProcess(t)
	ctx := context.Background()

	d := newDecision("alice", "Ship release?")
	gt.NoError(t, repo.PutDecision(ctx, d))
	gt.NoError(t, repo.AppendConsultation(ctx, d.ID, newConsultation("a")))

	got, err := repo.GetDecision(ctx, d.ID)
	gt.NoError(t, err)
	got.AgentsConsulted = nil
	got.Status = model.DecisionStatusSynthesized

	again, err := repo.GetDecision(ctx, d.ID)
	gt.NoError(t, err)
	gt.A(t, again.AgentsConsulted).Length(1)
	gt.Equal(t, again.Status, model.DecisionStatusAgentsConsulted)
}

func TestPutMemoryRequiresEmbedding(t *testing.T) {
	repo := newInProcess(t)
	m := newMemory("alice", "no vector", nil)
	gt.Error(t, repo.PutMemory(context.Background(), m))
}
