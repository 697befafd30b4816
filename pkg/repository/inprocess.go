package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/philippgille/chromem-go"
)

const (
	memoryCollectionName = "memories"

	metaOwner     = "owner"
	metaType      = "type"
	metaCategory  = "category"
	metaTagPrefix = "tag:"
)

// InProcess keeps everything in memory. Memory embeddings are indexed in a chromem-go
// collection; records themselves live in maps guarded by one mutex.
type InProcess struct {
	mu        sync.RWMutex
	memories  map[model.MemoryID]*model.Memory
	decisions map[model.DecisionID]*model.Decision
	agents    map[string]*model.Agent

	index *chromem.Collection
}

var _ Repository = (*InProcess)(nil)

// NewInProcess creates an empty in-process repository
func NewInProcess() (*InProcess, error) {
	db := chromem.NewDB()
	// Documents always carry their embedding, so the collection never embeds by itself.
	index, err := db.CreateCollection(memoryCollectionName, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, goerr.New("in-process index does not compute embeddings")
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create memory index")
	}

	return &InProcess{
		memories:  make(map[model.MemoryID]*model.Memory),
		decisions: make(map[model.DecisionID]*model.Decision),
		agents:    make(map[string]*model.Agent),
		index:     index,
	}, nil
}

func indexMetadata(m *model.Memory) map[string]string {
	meta := map[string]string{
		metaOwner:    m.OwnerID,
		metaType:     string(m.Type),
		metaCategory: string(m.Category),
	}
	for _, tag := range m.Tags.List() {
		meta[metaTagPrefix+tag] = "1"
	}
	return meta
}

func indexWhere(filter *model.MemoryFilter) map[string]string {
	if filter == nil {
		return nil
	}
	where := map[string]string{}
	if filter.OwnerID != "" {
		where[metaOwner] = filter.OwnerID
	}
	if filter.Type != "" {
		where[metaType] = string(filter.Type)
	}
	if filter.Category != "" {
		where[metaCategory] = string(filter.Category)
	}
	for _, tag := range filter.Tags {
		where[metaTagPrefix+tag] = "1"
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

func (r *InProcess) PutMemory(ctx context.Context, memory *model.Memory) error {
	if len(memory.Embedding) == 0 {
		return goerr.Wrap(model.ErrValidation, "memory has no embedding", goerr.V("id", memory.ID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !memory.Deleted() {
		err := r.index.AddDocument(ctx, chromem.Document{
			ID:        string(memory.ID),
			Metadata:  indexMetadata(memory),
			Embedding: append([]float32(nil), memory.Embedding...),
			Content:   memory.Content,
		})
		if err != nil {
			return goerr.Wrap(err, "failed to index memory", goerr.V("id", memory.ID))
		}
	}

	r.memories[memory.ID] = cloneMemory(memory)
	return nil
}

func (r *InProcess) GetMemory(ctx context.Context, id model.MemoryID) (*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.memories[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("id", id))
	}
	return cloneMemory(m), nil
}

func (r *InProcess) SearchMemories(ctx context.Context, filter *model.MemoryFilter, embedding []float32, limit int) ([]*model.ScoredMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// chromem rejects nResults larger than the collection
	n := min(limit, r.index.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := r.index.QueryEmbedding(ctx, embedding, n, indexWhere(filter), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memory index", goerr.V("limit", n))
	}

	scored := make([]*model.ScoredMemory, 0, len(results))
	for _, res := range results {
		m, ok := r.memories[model.MemoryID(res.ID)]
		if !ok || !filter.Match(m) {
			continue
		}
		scored = append(scored, &model.ScoredMemory{
			Memory:     cloneMemory(m),
			Similarity: float64(res.Similarity),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	return scored, nil
}

func (r *InProcess) RecentMemories(ctx context.Context, owner string, limit int) ([]*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filter := &model.MemoryFilter{OwnerID: owner}
	var memories []*model.Memory
	for _, m := range r.memories {
		if filter.Match(m) {
			memories = append(memories, cloneMemory(m))
		}
	}

	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

func (r *InProcess) ExpiredMemories(ctx context.Context, now time.Time) ([]*model.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*model.Memory
	for _, m := range r.memories {
		if !m.Deleted() && m.Expired(now) {
			expired = append(expired, cloneMemory(m))
		}
	}
	return expired, nil
}

func (r *InProcess) DeleteMemory(ctx context.Context, id model.MemoryID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memories[id]
	if !ok {
		return goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("id", id))
	}
	if m.Deleted() {
		return nil
	}

	if err := r.index.Delete(ctx, nil, nil, string(id)); err != nil {
		return goerr.Wrap(err, "failed to remove memory from index", goerr.V("id", id))
	}

	deletedAt := at
	m.DeletedAt = &deletedAt
	m.UpdatedAt = at
	return nil
}

func (r *InProcess) PutDecision(ctx context.Context, decision *model.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decisions[decision.ID] = cloneDecision(decision)
	return nil
}

func (r *InProcess) GetDecision(ctx context.Context, id model.DecisionID) (*model.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.decisions[id]
	if !ok || d.DeletedAt != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
	}
	return cloneDecision(d), nil
}

func (r *InProcess) ListDecisions(ctx context.Context, owner string, limit int) ([]*model.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var decisions []*model.Decision
	for _, d := range r.decisions {
		if d.DeletedAt != nil || (owner != "" && d.OwnerID != owner) {
			continue
		}
		decisions = append(decisions, cloneDecision(d))
	}

	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.After(decisions[j].CreatedAt)
	})
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[:limit]
	}
	return decisions, nil
}

// updateDecision runs fn on the stored decision under the write lock after checking allowed
func (r *InProcess) updateDecision(id model.DecisionID, allowed func(model.DecisionStatus) bool, fn func(d *model.Decision)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[id]
	if !ok || d.DeletedAt != nil {
		return goerr.Wrap(model.ErrNotFound, "decision not found", goerr.V("id", id))
	}
	if !allowed(d.Status) {
		return goerr.Wrap(model.ErrInvalidState, "operation not allowed in current state",
			goerr.V("id", id),
			goerr.V("status", d.Status))
	}

	fn(d)
	return nil
}

func (r *InProcess) SetDecisionContext(ctx context.Context, id model.DecisionID, memoryIDs []model.MemoryID, summary string, at time.Time) error {
	return r.updateDecision(id, model.DecisionStatus.CanAttachContext, func(d *model.Decision) {
		d.ContextMemoryIDs = append([]model.MemoryID(nil), memoryIDs...)
		if summary != "" {
			d.ContextSummary = summary
		}
		d.Status = model.DecisionStatusContextAttached
		d.UpdatedAt = at
	})
}

func (r *InProcess) AppendConsultation(ctx context.Context, id model.DecisionID, consultation *model.Consultation) error {
	return r.updateDecision(id, model.DecisionStatus.CanConsult, func(d *model.Decision) {
		d.AgentsConsulted = append(d.AgentsConsulted, *consultation)
		d.Status = model.DecisionStatusAgentsConsulted
		d.UpdatedAt = consultation.Timestamp
	})
}

func (r *InProcess) SetDecisionSynthesis(ctx context.Context, id model.DecisionID, synthesis *model.Synthesis, at time.Time) error {
	return r.updateDecision(id, model.DecisionStatus.CanSynthesize, func(d *model.Decision) {
		d.Synthesis = cloneSynthesis(synthesis)
		d.Status = model.DecisionStatusSynthesized
		d.UpdatedAt = at
	})
}

func (r *InProcess) SetDecisionOutcome(ctx context.Context, id model.DecisionID, outcome *model.Outcome) error {
	return r.updateDecision(id, model.DecisionStatus.CanRecordOutcome, func(d *model.Decision) {
		copied := *outcome
		d.Outcome = &copied
		d.Status = model.DecisionStatusOutcomeRecorded
		d.UpdatedAt = outcome.RecordedAt
	})
}

func (r *InProcess) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.agents[agent.Slug]; ok {
		agent.ID = current.ID
		agent.CreatedAt = current.CreatedAt
	}

	r.agents[agent.Slug] = cloneAgent(agent)
	return nil
}

func (r *InProcess) GetAgent(ctx context.Context, slug string) (*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[slug]
	if !ok || a.DeletedAt != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "agent not found", goerr.V("slug", slug))
	}
	return cloneAgent(a), nil
}

func (r *InProcess) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*model.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if a.DeletedAt == nil {
			agents = append(agents, cloneAgent(a))
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Slug < agents[j].Slug
	})
	return agents, nil
}
