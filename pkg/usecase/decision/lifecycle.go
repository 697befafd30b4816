package decision

import (
	"context"
	"strings"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// CreateInput is a new question
type CreateInput struct {
	OwnerID  string
	Question string
	Metadata map[string]any
}

// Create embeds the question and stores a new decision in created state. Nothing is
// stored when the embedding fails.
func (u *UseCase) Create(ctx context.Context, input CreateInput) (*model.Decision, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, goerr.Wrap(model.ErrValidation, "question is empty")
	}

	embedCtx, cancel := u.withTimeout(ctx)
	defer cancel()
	embedding, err := adapter.Embed(embedCtx, u.provider, question, u.dimension)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed question")
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := u.now()
	decision := &model.Decision{
		ID:                model.NewDecisionID(),
		OwnerID:           input.OwnerID,
		Question:          question,
		QuestionEmbedding: embedding,
		ContextMemoryIDs:  []model.MemoryID{},
		AgentsConsulted:   []model.Consultation{},
		Status:            model.DecisionStatusCreated,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := u.repo.PutDecision(ctx, decision); err != nil {
		return nil, goerr.Wrap(err, "failed to put decision", goerr.V("decision_id", decision.ID))
	}

	logging.From(ctx).Debug("decision created", "decision_id", decision.ID, "owner", decision.OwnerID)
	return decision, nil
}

// AddContext replaces the attached memory IDs. An empty summary keeps the stored one.
func (u *UseCase) AddContext(ctx context.Context, id model.DecisionID, memoryIDs []model.MemoryID, summary string) error {
	ids := make([]model.MemoryID, 0, len(memoryIDs))
	seen := make(map[model.MemoryID]bool, len(memoryIDs))
	for _, mid := range memoryIDs {
		if mid == "" || seen[mid] {
			continue
		}
		seen[mid] = true
		ids = append(ids, mid)
	}

	if err := u.repo.SetDecisionContext(ctx, id, ids, summary, u.now()); err != nil {
		return goerr.Wrap(err, "failed to attach context", goerr.V("decision_id", id))
	}
	return nil
}

// RecordAgentExecution appends one consultation to the decision log
func (u *UseCase) RecordAgentExecution(ctx context.Context, id model.DecisionID, agentID model.AgentID, agentName string, input, output any) (*model.Consultation, error) {
	consultation := &model.Consultation{
		ID:        model.NewConsultationID(),
		AgentID:   agentID,
		AgentName: agentName,
		Input:     input,
		Output:    output,
		Timestamp: u.now(),
	}

	if err := u.repo.AppendConsultation(ctx, id, consultation); err != nil {
		return nil, goerr.Wrap(err, "failed to record agent execution",
			goerr.V("decision_id", id),
			goerr.V("agent", agentName))
	}
	return consultation, nil
}

// UpdateSynthesis overwrites the synthesis. The last write wins.
func (u *UseCase) UpdateSynthesis(ctx context.Context, id model.DecisionID, synthesis *model.Synthesis) error {
	if synthesis == nil {
		return goerr.Wrap(model.ErrValidation, "synthesis is nil")
	}

	s := *synthesis
	s.Recommendation = strings.TrimSpace(s.Recommendation)
	if s.RiskFactors == nil {
		s.RiskFactors = []string{}
	}
	if s.Alternatives == nil {
		s.Alternatives = []string{}
	}
	if err := s.Validate(); err != nil {
		return err
	}

	if err := u.repo.SetDecisionSynthesis(ctx, id, &s, u.now()); err != nil {
		return goerr.Wrap(err, "failed to update synthesis", goerr.V("decision_id", id))
	}
	return nil
}

// RecordOutcome records what happened after the decision was synthesized
func (u *UseCase) RecordOutcome(ctx context.Context, id model.DecisionID, status model.OutcomeStatus, result string) (*model.Outcome, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}

	outcome := &model.Outcome{
		Status:     status,
		Result:     result,
		RecordedAt: u.now(),
	}
	if err := u.repo.SetDecisionOutcome(ctx, id, outcome); err != nil {
		return nil, goerr.Wrap(err, "failed to record outcome", goerr.V("decision_id", id))
	}
	return outcome, nil
}

// Get returns a decision. Soft-deleted decisions are reported as not found.
func (u *UseCase) Get(ctx context.Context, id model.DecisionID) (*model.Decision, error) {
	decision, err := u.repo.GetDecision(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get decision", goerr.V("decision_id", id))
	}
	if decision.DeletedAt != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "decision is deleted", goerr.V("decision_id", id))
	}
	return decision, nil
}

// List returns the newest decisions of owner. A non-positive limit takes the default.
func (u *UseCase) List(ctx context.Context, owner string, limit int) ([]*model.Decision, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	decisions, err := u.repo.ListDecisions(ctx, owner, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list decisions", goerr.V("owner", owner))
	}
	return decisions, nil
}
