package repository

import (
	"context"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
)

// MemoryRepository persists memories and answers nearest-neighbour queries over their embeddings
type MemoryRepository interface {
	// PutMemory saves a memory. The memory must carry its embedding.
	PutMemory(ctx context.Context, memory *model.Memory) error

	// GetMemory retrieves a memory by ID. Soft-deleted memories are returned as well.
	GetMemory(ctx context.Context, id model.MemoryID) (*model.Memory, error)

	// SearchMemories returns up to limit non-deleted memories matching filter, nearest to
	// embedding first. Similarity is 1 - cosine distance.
	SearchMemories(ctx context.Context, filter *model.MemoryFilter, embedding []float32, limit int) ([]*model.ScoredMemory, error)

	// RecentMemories returns up to limit non-deleted memories of owner, newest first
	RecentMemories(ctx context.Context, owner string, limit int) ([]*model.Memory, error)

	// ExpiredMemories returns non-deleted memories whose expiry is at or before now
	ExpiredMemories(ctx context.Context, now time.Time) ([]*model.Memory, error)

	// DeleteMemory sets the soft-delete marker
	DeleteMemory(ctx context.Context, id model.MemoryID, at time.Time) error
}

// DecisionRepository persists decisions. Every update method touches only its own fields;
// none of them rewrites the consultation log. Update methods check the current status in the
// same atomic step as the write and return model.ErrInvalidState when the transition is not
// allowed, or model.ErrNotFound for an unknown ID.
type DecisionRepository interface {
	// PutDecision stores a new decision
	PutDecision(ctx context.Context, decision *model.Decision) error

	// GetDecision retrieves a decision by ID
	GetDecision(ctx context.Context, id model.DecisionID) (*model.Decision, error)

	// ListDecisions returns up to limit decisions of owner, newest first
	ListDecisions(ctx context.Context, owner string, limit int) ([]*model.Decision, error)

	// SetDecisionContext replaces the attached memory IDs, sets summary when it is not empty
	// and moves the decision to context_attached. Allowed in created and context_attached.
	SetDecisionContext(ctx context.Context, id model.DecisionID, memoryIDs []model.MemoryID, summary string, at time.Time) error

	// AppendConsultation appends one entry to the consultation log and moves the decision to
	// agents_consulted. The status check and the append happen atomically; a decision that is
	// already synthesized is rejected with model.ErrInvalidState.
	AppendConsultation(ctx context.Context, id model.DecisionID, consultation *model.Consultation) error

	// SetDecisionSynthesis overwrites the synthesis and moves the decision to synthesized.
	// Allowed in any state before outcome_recorded.
	SetDecisionSynthesis(ctx context.Context, id model.DecisionID, synthesis *model.Synthesis, at time.Time) error

	// SetDecisionOutcome overwrites the outcome and moves the decision to outcome_recorded.
	// Allowed once the decision is synthesized.
	SetDecisionOutcome(ctx context.Context, id model.DecisionID, outcome *model.Outcome) error
}

// AgentRepository persists agent registry records keyed by slug
type AgentRepository interface {
	// UpsertAgent stores the agent under its slug. When the slug already exists the stored
	// ID and CreatedAt are kept and written back into agent.
	UpsertAgent(ctx context.Context, agent *model.Agent) error

	// GetAgent retrieves an agent by slug
	GetAgent(ctx context.Context, slug string) (*model.Agent, error)

	// ListAgents returns every registered agent
	ListAgents(ctx context.Context) ([]*model.Agent, error)
}

// Repository bundles every store the engine needs
type Repository interface {
	MemoryRepository
	DecisionRepository
	AgentRepository
}

type composite struct {
	MemoryRepository
	DecisionRepository
	AgentRepository
}

// Compose builds a Repository from separate stores, e.g. Redis decisions and agents with
// an in-process memory index
func Compose(memories MemoryRepository, decisions DecisionRepository, agents AgentRepository) Repository {
	return &composite{
		MemoryRepository:   memories,
		DecisionRepository: decisions,
		AgentRepository:    agents,
	}
}
