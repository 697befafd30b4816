package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/m-mizutani/gt"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.NewFirestore(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	return repo
}

func TestFirestoreDecision(t *testing.T) {
	testDecisionRepository(t, setupFirestore(t))
}

func TestFirestoreAgent(t *testing.T) {
	testAgentRepository(t, setupFirestore(t))
}

func TestFirestoreMemoryEmbedding(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	memory := newMemory("firestore-test", "Memory with embedding", axis(2, 0.1), "release")
	gt.NoError(t, repo.PutMemory(ctx, memory))

	retrieved, err := repo.GetMemory(ctx, memory.ID)
	gt.NoError(t, err)
	gt.V(t, retrieved).NotNil()
	gt.Equal(t, retrieved.ID, memory.ID)
	gt.A(t, retrieved.Embedding).Length(testDimension)
	gt.True(t, retrieved.Tags["release"])

	for i := range memory.Embedding {
		if retrieved.Embedding[i] != memory.Embedding[i] {
			t.Errorf("embedding mismatch at index %d: expected %v, got %v",
				i, memory.Embedding[i], retrieved.Embedding[i])
			break
		}
	}
}

func TestFirestoreSearchMemories(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()
	owner := "firestore-" + string(model.NewMemoryID())

	target := newMemory(owner, "Similar to query", axis(0, 0.01))
	far := newMemory(owner, "Different from query", axis(4, 0.01))
	for _, m := range []*model.Memory{target, far} {
		gt.NoError(t, repo.PutMemory(ctx, m))
	}

	// Wait a bit for Firestore to index
	time.Sleep(2 * time.Second)

	results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner}, target.Embedding, 2)
	gt.NoError(t, err)
	gt.A(t, results).Longer(0)
	gt.Equal(t, results[0].Memory.ID, target.ID)
	gt.True(t, results[0].Similarity > 0.99)

	gt.NoError(t, repo.DeleteMemory(ctx, target.ID, time.Now()))
	results, err = repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner}, target.Embedding, 2)
	gt.NoError(t, err)
	for _, r := range results {
		gt.NotEqual(t, r.Memory.ID, target.ID)
	}
}
