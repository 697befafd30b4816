package repository

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionMemories  = "memories"
	collectionDecisions = "decisions"
	collectionAgents    = "agents"

	distanceField = "VectorDistance"

	// concurrent appends to one decision contend on the same document
	transactionAttempts = 20
)

// Firestore implements Repository on Cloud Firestore. Memory search uses Firestore vector
// search (FindNearest) with cosine distance.
type Firestore struct {
	client *firestore.Client
}

var _ Repository = (*Firestore)(nil)

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (r *Firestore) PutMemory(ctx context.Context, memory *model.Memory) error {
	if len(memory.Embedding) == 0 {
		return goerr.Wrap(model.ErrValidation, "memory has no embedding", goerr.V("id", memory.ID))
	}

	if _, err := r.client.Collection(collectionMemories).Doc(string(memory.ID)).Set(ctx, memory); err != nil {
		return goerr.Wrap(err, "failed to put memory", goerr.V("id", memory.ID))
	}
	return nil
}

func (r *Firestore) GetMemory(ctx context.Context, id model.MemoryID) (*model.Memory, error) {
	doc, err := r.client.Collection(collectionMemories).Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("id", id))
	}

	var memory model.Memory
	if err := doc.DataTo(&memory); err != nil {
		return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("id", id))
	}
	return &memory, nil
}

func (r *Firestore) memoryQuery(filter *model.MemoryFilter) firestore.Query {
	q := r.client.Collection(collectionMemories).Where("DeletedAt", "==", nil)
	if filter == nil {
		return q
	}

	if filter.OwnerID != "" {
		q = q.Where("OwnerID", "==", filter.OwnerID)
	}
	if filter.Type != "" {
		q = q.Where("Type", "==", string(filter.Type))
	}
	if filter.Category != "" {
		q = q.Where("Category", "==", string(filter.Category))
	}
	for _, tag := range filter.Tags {
		q = q.WherePath(firestore.FieldPath{"Tags", tag}, "==", true)
	}
	return q
}

func (r *Firestore) SearchMemories(ctx context.Context, filter *model.MemoryFilter, embedding []float32, limit int) ([]*model.ScoredMemory, error) {
	if limit <= 0 {
		return nil, nil
	}

	vq := r.memoryQuery(filter).FindNearest("Embedding",
		firestore.Vector32(embedding),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField},
	)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var results []*model.ScoredMemory
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search result")
		}

		var memory model.Memory
		if err := doc.DataTo(&memory); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc_id", doc.Ref.ID))
		}

		distance, err := doc.DataAt(distanceField)
		if err != nil {
			return nil, goerr.Wrap(err, "vector search result has no distance", goerr.V("doc_id", doc.Ref.ID))
		}
		d, ok := distance.(float64)
		if !ok {
			return nil, goerr.New("unexpected distance type", goerr.V("doc_id", doc.Ref.ID), goerr.V("distance", distance))
		}

		results = append(results, &model.ScoredMemory{
			Memory:     &memory,
			Similarity: 1 - d,
		})
	}

	return results, nil
}

func (r *Firestore) collectMemories(iter *firestore.DocumentIterator) ([]*model.Memory, error) {
	defer iter.Stop()

	var memories []*model.Memory
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories")
		}

		var memory model.Memory
		if err := doc.DataTo(&memory); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc_id", doc.Ref.ID))
		}
		memories = append(memories, &memory)
	}
	return memories, nil
}

func (r *Firestore) RecentMemories(ctx context.Context, owner string, limit int) ([]*model.Memory, error) {
	q := r.memoryQuery(&model.MemoryFilter{OwnerID: owner}).OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return r.collectMemories(q.Documents(ctx))
}

func (r *Firestore) ExpiredMemories(ctx context.Context, now time.Time) ([]*model.Memory, error) {
	q := r.memoryQuery(nil).Where("ExpiresAt", "<=", now)
	return r.collectMemories(q.Documents(ctx))
}

func (r *Firestore) DeleteMemory(ctx context.Context, id model.MemoryID, at time.Time) error {
	_, err := r.client.Collection(collectionMemories).Doc(string(id)).Update(ctx, []firestore.Update{
		{Path: "DeletedAt", Value: at},
		{Path: "UpdatedAt", Value: at},
	})
	if err != nil {
		if isNotFound(err) {
			return goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	return nil
}

func (r *Firestore) PutDecision(ctx context.Context, decision *model.Decision) error {
	if _, err := r.client.Collection(collectionDecisions).Doc(string(decision.ID)).Set(ctx, decision); err != nil {
		return goerr.Wrap(err, "failed to put decision", goerr.V("id", decision.ID))
	}
	return nil
}

func (r *Firestore) GetDecision(ctx context.Context, id model.DecisionID) (*model.Decision, error) {
	doc, err := r.client.Collection(collectionDecisions).Doc(string(id)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get decision", goerr.V("id", id))
	}

	var decision model.Decision
	if err := doc.DataTo(&decision); err != nil {
		return nil, goerr.Wrap(err, "failed to decode decision", goerr.V("id", id))
	}
	if decision.DeletedAt != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
	}
	return &decision, nil
}

func (r *Firestore) ListDecisions(ctx context.Context, owner string, limit int) ([]*model.Decision, error) {
	q := r.client.Collection(collectionDecisions).Where("DeletedAt", "==", nil)
	if owner != "" {
		q = q.Where("OwnerID", "==", owner)
	}
	q = q.OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var decisions []*model.Decision
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate decisions")
		}

		var decision model.Decision
		if err := doc.DataTo(&decision); err != nil {
			return nil, goerr.Wrap(err, "failed to decode decision", goerr.V("doc_id", doc.Ref.ID))
		}
		decisions = append(decisions, &decision)
	}
	return decisions, nil
}

// updateDecision checks the stored status and applies updates in one transaction
func (r *Firestore) updateDecision(ctx context.Context, id model.DecisionID, allowed func(model.DecisionStatus) bool, updates []firestore.Update) error {
	ref := r.client.Collection(collectionDecisions).Doc(string(id))

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to get decision", goerr.V("id", id))
		}

		if deletedAt, err := doc.DataAt("DeletedAt"); err == nil && deletedAt != nil {
			return goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
		}

		raw, err := doc.DataAt("Status")
		if err != nil {
			return goerr.Wrap(err, "decision has no status", goerr.V("id", id))
		}
		current, _ := raw.(string)
		if !allowed(model.DecisionStatus(current)) {
			return goerr.Wrap(model.ErrInvalidState, "operation not allowed in current state",
				goerr.V("id", id),
				goerr.V("status", current))
		}

		return tx.Update(ref, updates)
	}, firestore.MaxAttempts(transactionAttempts))
}

func (r *Firestore) SetDecisionContext(ctx context.Context, id model.DecisionID, memoryIDs []model.MemoryID, summary string, at time.Time) error {
	if memoryIDs == nil {
		memoryIDs = []model.MemoryID{}
	}
	updates := []firestore.Update{
		{Path: "ContextMemoryIDs", Value: memoryIDs},
		{Path: "Status", Value: string(model.DecisionStatusContextAttached)},
		{Path: "UpdatedAt", Value: at},
	}
	if summary != "" {
		updates = append(updates, firestore.Update{Path: "ContextSummary", Value: summary})
	}
	return r.updateDecision(ctx, id, model.DecisionStatus.CanAttachContext, updates)
}

func (r *Firestore) AppendConsultation(ctx context.Context, id model.DecisionID, consultation *model.Consultation) error {
	// Consultation IDs are unique, so ArrayUnion never collapses two entries.
	return r.updateDecision(ctx, id, model.DecisionStatus.CanConsult, []firestore.Update{
		{Path: "AgentsConsulted", Value: firestore.ArrayUnion(*consultation)},
		{Path: "Status", Value: string(model.DecisionStatusAgentsConsulted)},
		{Path: "UpdatedAt", Value: consultation.Timestamp},
	})
}

func (r *Firestore) SetDecisionSynthesis(ctx context.Context, id model.DecisionID, synthesis *model.Synthesis, at time.Time) error {
	return r.updateDecision(ctx, id, model.DecisionStatus.CanSynthesize, []firestore.Update{
		{Path: "Synthesis", Value: synthesis},
		{Path: "Status", Value: string(model.DecisionStatusSynthesized)},
		{Path: "UpdatedAt", Value: at},
	})
}

func (r *Firestore) SetDecisionOutcome(ctx context.Context, id model.DecisionID, outcome *model.Outcome) error {
	return r.updateDecision(ctx, id, model.DecisionStatus.CanRecordOutcome, []firestore.Update{
		{Path: "Outcome", Value: outcome},
		{Path: "Status", Value: string(model.DecisionStatusOutcomeRecorded)},
		{Path: "UpdatedAt", Value: outcome.RecordedAt},
	})
}

func (r *Firestore) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	ref := r.client.Collection(collectionAgents).Doc(agent.Slug)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			var current model.Agent
			if err := doc.DataTo(&current); err != nil {
				return goerr.Wrap(err, "failed to decode agent", goerr.V("slug", agent.Slug))
			}
			agent.ID = current.ID
			agent.CreatedAt = current.CreatedAt
		case !isNotFound(err):
			return goerr.Wrap(err, "failed to get agent", goerr.V("slug", agent.Slug))
		}

		return tx.Set(ref, agent)
	}, firestore.MaxAttempts(transactionAttempts))
	if err != nil {
		return goerr.Wrap(err, "failed to upsert agent", goerr.V("slug", agent.Slug))
	}
	return nil
}

func (r *Firestore) GetAgent(ctx context.Context, slug string) (*model.Agent, error) {
	doc, err := r.client.Collection(collectionAgents).Doc(slug).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "agent not found", goerr.V("slug", slug))
		}
		return nil, goerr.Wrap(err, "failed to get agent", goerr.V("slug", slug))
	}

	var agent model.Agent
	if err := doc.DataTo(&agent); err != nil {
		return nil, goerr.Wrap(err, "failed to decode agent", goerr.V("slug", slug))
	}
	if agent.DeletedAt != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "agent not found", goerr.V("slug", slug))
	}
	return &agent, nil
}

func (r *Firestore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	iter := r.client.Collection(collectionAgents).Where("DeletedAt", "==", nil).Documents(ctx)
	defer iter.Stop()

	var agents []*model.Agent
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate agents")
		}

		var agent model.Agent
		if err := doc.DataTo(&agent); err != nil {
			return nil, goerr.Wrap(err, "failed to decode agent", goerr.V("doc_id", doc.Ref.ID))
		}
		agents = append(agents, &agent)
	}
	return agents, nil
}
