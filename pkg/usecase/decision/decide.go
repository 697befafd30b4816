package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/agent/system"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/policy"
	"github.com/lifeops/lifeops/pkg/usecase/memory"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// DecideInput runs the whole pipeline for one question
type DecideInput struct {
	OwnerID  string
	Question string
	Metadata map[string]any

	// ContextLimit caps the memories attached as context; zero takes the default (3)
	ContextLimit int
	// Threshold overrides the memory search threshold
	Threshold *float64

	// Steps, when set, are consulted instead of the planned ones
	Steps []policy.Step
}

// DecideResult is the synthesized decision plus everything the pipeline saw on the way.
// When Decide fails after the decision was created, the result is returned along with the
// error and Decision holds the last committed state so the caller can resume from it.
type DecideResult struct {
	Decision      *model.Decision
	Memories      []*model.ScoredMemory
	Consultations []Consultation
	Warnings      []string
}

// Consultation is one executed step and its result
type Consultation struct {
	Step   policy.Step
	Result agent.Result
}

// Decide creates the decision, attaches related memories, consults agents and synthesizes
// a recommendation. A quota rejection during the context search is a warning: the
// decision continues without context. Every other failure aborts the pipeline and leaves
// the decision in its last committed state; once the decision exists, the partial result
// is returned with the error.
func (u *UseCase) Decide(ctx context.Context, input DecideInput) (*DecideResult, error) {
	decision, err := u.Create(ctx, CreateInput{
		OwnerID:  input.OwnerID,
		Question: input.Question,
		Metadata: input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithAttrs(ctx, "decision_id", decision.ID)
	logger := logging.From(ctx)
	result := &DecideResult{Decision: decision}

	memories, err := u.searchContext(ctx, decision, input)
	switch {
	case errors.Is(err, model.ErrQuotaExceeded):
		logger.Warn("context search skipped by provider quota", "error", err)
		result.Warnings = append(result.Warnings, "context search skipped: provider quota exceeded")
	case err != nil:
		return u.partial(ctx, result, err)
	default:
		result.Memories = memories
	}

	consultations, warnings, err := u.consult(ctx, decision, input, memories)
	if err != nil {
		return u.partial(ctx, result, err)
	}
	result.Consultations = consultations
	result.Warnings = append(result.Warnings, warnings...)

	synthesized, err := u.Synthesize(ctx, decision.ID)
	if err != nil {
		return u.partial(ctx, result, err)
	}
	result.Decision = synthesized

	logger.Info("decision synthesized",
		"memories", len(result.Memories),
		"consultations", len(result.Consultations),
		"confidence", synthesized.Synthesis.Confidence)
	return result, nil
}

// partial refreshes result.Decision to the stored state and returns it with err
func (u *UseCase) partial(ctx context.Context, result *DecideResult, err error) (*DecideResult, error) {
	id := result.Decision.ID
	if latest, getErr := u.Get(ctx, id); getErr == nil {
		result.Decision = latest
	} else {
		logging.From(ctx).Warn("failed to reload decision", "error", getErr)
	}
	return result, goerr.Wrap(err, "decision pipeline aborted", goerr.V("decision_id", id))
}

func (u *UseCase) searchContext(ctx context.Context, decision *model.Decision, input DecideInput) ([]*model.ScoredMemory, error) {
	limit := input.ContextLimit
	if limit <= 0 {
		limit = DefaultContextLimit
	}

	found, err := u.memories.Search(ctx, memory.SearchInput{
		Query:     decision.Question,
		OwnerID:   decision.OwnerID,
		Limit:     limit,
		Threshold: input.Threshold,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	ids := make([]model.MemoryID, 0, len(found))
	for _, m := range found {
		ids = append(ids, m.Memory.ID)
	}
	summary := fmt.Sprintf("%d related memories, best similarity %.2f", len(found), found[0].Similarity)
	if err := u.AddContext(ctx, decision.ID, ids, summary); err != nil {
		return nil, err
	}
	return found, nil
}

// plan picks the steps: explicit steps first, then the policy, then the system agent
func (u *UseCase) plan(ctx context.Context, decision *model.Decision, input DecideInput, agents []*model.Agent, memories []*model.ScoredMemory) ([]policy.Step, error) {
	if len(input.Steps) > 0 {
		return input.Steps, nil
	}

	if u.planner.Enabled() {
		mems := make([]*model.Memory, 0, len(memories))
		for _, m := range memories {
			mems = append(mems, m.Memory)
		}
		return u.planner.Plan(ctx, policy.Input{
			OwnerID:  decision.OwnerID,
			Question: decision.Question,
			Metadata: decision.Metadata,
			Agents:   agents,
			Memories: mems,
		})
	}

	return []policy.Step{{
		Agent:   system.Slug,
		Command: system.CommandEcho,
		Input:   map[string]any{"message": "Analyzing: " + decision.Question},
	}}, nil
}

func (u *UseCase) consult(ctx context.Context, decision *model.Decision, input DecideInput, memories []*model.ScoredMemory) ([]Consultation, []string, error) {
	if u.runtime == nil {
		return nil, nil, nil
	}
	logger := logging.From(ctx)

	agents, err := u.runtime.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	bySlug := make(map[string]*model.Agent, len(agents))
	for _, a := range agents {
		bySlug[a.Slug] = a
	}

	steps, err := u.plan(ctx, decision, input, agents, memories)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	var requests []agent.Request
	var planned []policy.Step
	for _, step := range steps {
		record, ok := bySlug[step.Agent]
		if !ok || !u.runtime.Bound(step.Agent) {
			logger.Warn("planned agent is not available", "agent", step.Agent)
			warnings = append(warnings, fmt.Sprintf("agent %s is not available", step.Agent))
			continue
		}
		requests = append(requests, agent.Request{
			Agent: record,
			Input: agent.Context{
				OwnerID:    decision.OwnerID,
				DecisionID: decision.ID,
				Command:    step.Command,
				Input:      step.Input,
			},
		})
		planned = append(planned, step)
	}

	var (
		mu        sync.Mutex
		appendErr error
	)
	results := u.runtime.ExecuteAll(ctx, requests, u.concurrency, func(req agent.Request, res agent.Result) {
		in := map[string]any{
			"action":  "analysis",
			"command": req.Input.Command,
			"input":   req.Input.Input,
		}
		_, err := u.RecordAgentExecution(ctx, decision.ID, req.Agent.ID, req.Agent.Name, in, resultOutput(res))

		mu.Lock()
		defer mu.Unlock()
		if err != nil && appendErr == nil {
			appendErr = err
		}
	})
	if appendErr != nil {
		return nil, nil, appendErr
	}

	consultations := make([]Consultation, 0, len(results))
	for i, res := range results {
		if !res.Success {
			warnings = append(warnings, fmt.Sprintf("agent %s failed: %s", planned[i].Agent, res.Error))
		}
		consultations = append(consultations, Consultation{Step: planned[i], Result: res})
	}
	return consultations, warnings, nil
}

func resultOutput(res agent.Result) map[string]any {
	out := map[string]any{"success": res.Success}
	if res.Data != nil {
		out["data"] = res.Data
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	return out
}
