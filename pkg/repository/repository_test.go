package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/m-mizutani/gt"
)

const testDimension = 8

// axis returns a vector pointing mostly along dimension i
func axis(i int, noise float32) firestore.Vector32 {
	v := make(firestore.Vector32, testDimension)
	for j := range v {
		v[j] = noise
	}
	v[i%testDimension] = 1
	return v
}

func newMemory(owner, content string, embedding firestore.Vector32, tags ...string) *model.Memory {
	now := testNow()
	return &model.Memory{
		ID:             model.NewMemoryID(),
		OwnerID:        owner,
		Type:           model.MemoryTypeLongTerm,
		Category:       model.MemoryCategoryDecision,
		Content:        content,
		Embedding:      embedding,
		Tags:           model.NewTagSet(tags),
		RelevanceScore: 1.0,
		CreatedAt:      now,
		UpdatedAt:      now,
		AccessedAt:     now,
	}
}

func newDecision(owner, question string) *model.Decision {
	now := testNow()
	return &model.Decision{
		ID:                model.NewDecisionID(),
		OwnerID:           owner,
		Question:          question,
		QuestionEmbedding: axis(0, 0),
		Status:            model.DecisionStatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newConsultation(agent string) *model.Consultation {
	return &model.Consultation{
		ID:        model.NewConsultationID(),
		AgentID:   model.AgentID(agent),
		AgentName: agent,
		Input:     map[string]any{"command": "chat"},
		Output:    map[string]any{"message": "ok"},
		Timestamp: testNow(),
	}
}

func testMemoryRepository(t *testing.T, repo repository.MemoryRepository) {
	ctx := context.Background()
	owner := "owner-" + string(model.NewMemoryID())

	target := newMemory(owner, "prefer shipping on Tuesdays", axis(0, 0.01), "release", "work")
	other := newMemory(owner, "coffee after lunch", axis(3, 0.01), "food")
	foreign := newMemory("someone-else", "prefer shipping on Tuesdays", axis(0, 0.01), "release")
	for _, m := range []*model.Memory{target, other, foreign} {
		gt.NoError(t, repo.PutMemory(ctx, m))
	}

	t.Run("self similarity hit", func(t *testing.T) {
		results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner}, target.Embedding, 5)
		gt.NoError(t, err)
		gt.A(t, results).Longer(0)
		gt.Equal(t, results[0].Memory.ID, target.ID)
		gt.True(t, results[0].Similarity > 0.99)
	})

	t.Run("results ordered by similarity", func(t *testing.T) {
		results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner}, target.Embedding, 5)
		gt.NoError(t, err)
		for i := 1; i < len(results); i++ {
			gt.True(t, results[i-1].Similarity >= results[i].Similarity)
		}
	})

	t.Run("owner filter", func(t *testing.T) {
		results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner}, target.Embedding, 5)
		gt.NoError(t, err)
		for _, r := range results {
			gt.Equal(t, r.Memory.OwnerID, owner)
		}
	})

	t.Run("all tags must be present", func(t *testing.T) {
		results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner, Tags: []string{"release", "work"}}, target.Embedding, 5)
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].Memory.ID, target.ID)

		results, err = repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner, Tags: []string{"release", "food"}}, target.Embedding, 5)
		gt.NoError(t, err)
		gt.A(t, results).Length(0)
	})

	t.Run("recent is newest first", func(t *testing.T) {
		newer := newMemory(owner, "latest note", axis(5, 0.01))
		newer.CreatedAt = testNow().Add(time.Minute)
		gt.NoError(t, repo.PutMemory(ctx, newer))

		recent, err := repo.RecentMemories(ctx, owner, 2)
		gt.NoError(t, err)
		gt.A(t, recent).Length(2)
		gt.Equal(t, recent[0].ID, newer.ID)
	})

	t.Run("soft deleted memory is excluded", func(t *testing.T) {
		gt.NoError(t, repo.DeleteMemory(ctx, target.ID, testNow()))

		results, err := repo.SearchMemories(ctx, &model.MemoryFilter{OwnerID: owner}, target.Embedding, 5)
		gt.NoError(t, err)
		for _, r := range results {
			gt.NotEqual(t, r.Memory.ID, target.ID)
		}

		got, err := repo.GetMemory(ctx, target.ID)
		gt.NoError(t, err)
		gt.True(t, got.Deleted())
	})

	t.Run("delete unknown memory", func(t *testing.T) {
		err := repo.DeleteMemory(ctx, model.NewMemoryID(), time.Now())
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("expired memories", func(t *testing.T) {
		past := testNow().Add(-time.Hour)
		expiring := newMemory(owner, "temporary", axis(6, 0.01))
		expiring.ExpiresAt = &past
		gt.NoError(t, repo.PutMemory(ctx, expiring))

		expired, err := repo.ExpiredMemories(ctx, testNow())
		gt.NoError(t, err)
		found := false
		for _, m := range expired {
			if m.ID == expiring.ID {
				found = true
			}
		}
		gt.True(t, found)
	})
}

func testDecisionRepository(t *testing.T, repo repository.DecisionRepository) {
	ctx := context.Background()

	t.Run("get unknown decision", func(t *testing.T) {
		_, err := repo.GetDecision(ctx, model.NewDecisionID())
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("context replaces previous context", func(t *testing.T) {
		d := newDecision("alice", "Ship release?")
		gt.NoError(t, repo.PutDecision(ctx, d))

		m1, m2, m3 := model.NewMemoryID(), model.NewMemoryID(), model.NewMemoryID()
		gt.NoError(t, repo.SetDecisionContext(ctx, d.ID, []model.MemoryID{m1, m2}, "first", time.Now()))
		gt.NoError(t, repo.SetDecisionContext(ctx, d.ID, []model.MemoryID{m3}, "second", time.Now()))

		got, err := repo.GetDecision(ctx, d.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.ContextMemoryIDs, []model.MemoryID{m3})
		gt.Equal(t, got.ContextSummary, "second")
		gt.Equal(t, got.Status, model.DecisionStatusContextAttached)
	})

	t.Run("empty summary keeps the stored summary", func(t *testing.T) {
		d := newDecision("alice", "Ship release?")
		gt.NoError(t, repo.PutDecision(ctx, d))

		m1, m2 := model.NewMemoryID(), model.NewMemoryID()
		gt.NoError(t, repo.SetDecisionContext(ctx, d.ID, []model.MemoryID{m1}, "first summary", time.Now()))
		gt.NoError(t, repo.SetDecisionContext(ctx, d.ID, []model.MemoryID{m2}, "", time.Now()))

		got, err := repo.GetDecision(ctx, d.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.ContextMemoryIDs, []model.MemoryID{m2})
		gt.Equal(t, got.ContextSummary, "first summary")
	})

	t.Run("concurrent appends keep every entry", func(t *testing.T) {
		d := newDecision("alice", "Hire contractor?")
		gt.NoError(t, repo.PutDecision(ctx, d))

		const n = 16
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.AppendConsultation(ctx, d.ID, newConsultation("agent"))
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			gt.NoError(t, err)
		}

		got, err := repo.GetDecision(ctx, d.ID)
		gt.NoError(t, err)
		gt.A(t, got.AgentsConsulted).Length(n)
		gt.Equal(t, got.Status, model.DecisionStatusAgentsConsulted)

		seen := map[model.ConsultationID]bool{}
		for _, c := range got.AgentsConsulted {
			seen[c.ID] = true
		}
		gt.Equal(t, len(seen), n)
	})

	t.Run("synthesis closes the consultation log", func(t *testing.T) {
		d := newDecision("bob", "Move to Berlin?")
		gt.NoError(t, repo.PutDecision(ctx, d))
		gt.NoError(t, repo.AppendConsultation(ctx, d.ID, newConsultation("system-core")))

		synthesis := &model.Synthesis{
			Recommendation: "Stay",
			Reasoning:      "costs",
			RiskFactors:    []string{"rent"},
			Alternatives:   []string{},
			Confidence:     70,
		}
		gt.NoError(t, repo.SetDecisionSynthesis(ctx, d.ID, synthesis, time.Now()))

		err := repo.AppendConsultation(ctx, d.ID, newConsultation("late"))
		gt.True(t, errors.Is(err, model.ErrInvalidState))

		err = repo.SetDecisionContext(ctx, d.ID, nil, "", time.Now())
		gt.True(t, errors.Is(err, model.ErrInvalidState))

		got, err := repo.GetDecision(ctx, d.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.Status, model.DecisionStatusSynthesized)
		gt.A(t, got.AgentsConsulted).Length(1)
		gt.Equal(t, got.Synthesis.Recommendation, "Stay")
		gt.Equal(t, got.Synthesis.Confidence, 70.0)

		outcome := &model.Outcome{Status: model.OutcomeStatusImplemented, Result: "stayed", RecordedAt: testNow()}
		gt.NoError(t, repo.SetDecisionOutcome(ctx, d.ID, outcome))

		got, err = repo.GetDecision(ctx, d.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.Status, model.DecisionStatusOutcomeRecorded)
		gt.Equal(t, got.Outcome.Status, model.OutcomeStatusImplemented)

		err = repo.SetDecisionSynthesis(ctx, d.ID, synthesis, time.Now())
		gt.True(t, errors.Is(err, model.ErrInvalidState))
	})

	t.Run("outcome requires synthesis", func(t *testing.T) {
		d := newDecision("bob", "Buy a car?")
		gt.NoError(t, repo.PutDecision(ctx, d))

		err := repo.SetDecisionOutcome(ctx, d.ID, &model.Outcome{Status: model.OutcomeStatusPending, RecordedAt: time.Now()})
		gt.True(t, errors.Is(err, model.ErrInvalidState))
	})

	t.Run("append to unknown decision", func(t *testing.T) {
		err := repo.AppendConsultation(ctx, model.NewDecisionID(), newConsultation("x"))
		gt.True(t, errors.Is(err, model.ErrNotFound))
	})

	t.Run("list is newest first per owner", func(t *testing.T) {
		owner := "lister-" + string(model.NewDecisionID())
		older := newDecision(owner, "older")
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		newer := newDecision(owner, "newer")
		gt.NoError(t, repo.PutDecision(ctx, older))
		gt.NoError(t, repo.PutDecision(ctx, newer))
		gt.NoError(t, repo.PutDecision(ctx, newDecision("other-"+owner, "not mine")))

		list, err := repo.ListDecisions(ctx, owner, 10)
		gt.NoError(t, err)
		gt.A(t, list).Length(2)
		gt.Equal(t, list[0].ID, newer.ID)
		gt.Equal(t, list[1].ID, older.ID)

		list, err = repo.ListDecisions(ctx, owner, 1)
		gt.NoError(t, err)
		gt.A(t, list).Length(1)
	})
}

func testAgentRepository(t *testing.T, repo repository.AgentRepository) {
	ctx := context.Background()
	slug := "agent-" + string(model.NewAgentID())

	first := &model.Agent{
		ID:        model.NewAgentID(),
		Slug:      slug,
		Name:      "First",
		Config:    model.DefaultAgentConfig(),
		CreatedAt: testNow().Add(-time.Hour),
		UpdatedAt: testNow().Add(-time.Hour),
	}
	gt.NoError(t, repo.UpsertAgent(ctx, first))

	second := &model.Agent{
		ID:        model.NewAgentID(),
		Slug:      slug,
		Name:      "Second",
		Version:   "2.0.0",
		Config:    model.DefaultAgentConfig(),
		CreatedAt: testNow(),
		UpdatedAt: testNow(),
	}
	gt.NoError(t, repo.UpsertAgent(ctx, second))
	gt.Equal(t, second.ID, first.ID)

	got, err := repo.GetAgent(ctx, slug)
	gt.NoError(t, err)
	gt.Equal(t, got.ID, first.ID)
	gt.Equal(t, got.Name, "Second")
	gt.Equal(t, got.Version, "2.0.0")
	gt.True(t, got.CreatedAt.Equal(first.CreatedAt))

	agents, err := repo.ListAgents(ctx)
	gt.NoError(t, err)
	count := 0
	for _, a := range agents {
		if a.Slug == slug {
			count++
		}
	}
	gt.Equal(t, count, 1)

	_, err = repo.GetAgent(ctx, "missing-"+slug)
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

// testNow is truncated to the precision every backend keeps
func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
