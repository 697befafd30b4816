package decision

import (
	"context"
	"errors"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/synthesis"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Synthesize asks the completer for a recommendation over the question, the attached
// memories and the consultation log, and writes the parsed result. A reply that does not
// match the contract fails with model.ErrSynthesisParse and leaves the decision as it was.
func (u *UseCase) Synthesize(ctx context.Context, id model.DecisionID) (*model.Decision, error) {
	logger := logging.From(ctx)

	decision, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !decision.Status.CanSynthesize() {
		return nil, goerr.Wrap(model.ErrInvalidState, "decision can not be synthesized",
			goerr.V("decision_id", id),
			goerr.V("status", decision.Status))
	}

	memories, err := u.contextMemories(ctx, decision)
	if err != nil {
		return nil, err
	}

	prompt, err := synthesis.BuildPrompt(decision.Question, memories, decision.AgentsConsulted)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build synthesis prompt", goerr.V("decision_id", id))
	}

	completeCtx, cancel := u.withTimeout(ctx)
	defer cancel()
	reply, err := u.provider.Complete(completeCtx, prompt)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to complete synthesis prompt", goerr.V("decision_id", id))
	}

	result, err := synthesis.Parse(reply)
	if err != nil {
		logger.Warn("synthesis reply did not match the contract", "decision_id", id, "error", err)
		return nil, goerr.Wrap(err, "failed to parse synthesis", goerr.V("decision_id", id))
	}

	if err := u.UpdateSynthesis(ctx, id, result); err != nil {
		return nil, err
	}

	return u.Get(ctx, id)
}

// contextMemories loads the attached memories in attachment order. Memories deleted since
// they were attached are skipped.
func (u *UseCase) contextMemories(ctx context.Context, decision *model.Decision) ([]*model.Memory, error) {
	memories := make([]*model.Memory, 0, len(decision.ContextMemoryIDs))
	for _, mid := range decision.ContextMemoryIDs {
		m, err := u.repo.GetMemory(ctx, mid)
		if errors.Is(err, model.ErrNotFound) {
			logging.From(ctx).Debug("attached memory is gone", "memory_id", mid)
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get context memory",
				goerr.V("decision_id", decision.ID),
				goerr.V("memory_id", mid))
		}
		if m.Deleted() {
			continue
		}
		memories = append(memories, m)
	}
	return memories, nil
}
