package policy

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the rego document evaluated by the planner. Policies declare a `plan` set in
// package `consult`:
//
//	package consult
//
//	plan contains {"agent": "system-core", "command": "echo", "input": {"message": input.question}}
const Query = "data.consult"

// Planner decides which agents a decision consults and with what input
type Planner struct {
	query *rego.PreparedEvalQuery
}

// Step is one planned consultation
type Step struct {
	Agent   string
	Command string
	Input   map[string]any
}

// Input is the document passed to the policy as `input`
type Input struct {
	OwnerID  string
	Question string
	Metadata map[string]any
	Agents   []*model.Agent
	Memories []*model.Memory
}

type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(_ print.Context, message string) error {
	h.logger.Info("[rego] " + message)
	return nil
}

// Load prepares the planner from every .rego file in dir. A planner without policy
// files plans nothing.
func Load(ctx context.Context, dir string) (*Planner, error) {
	if dir == "" {
		return &Planner{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	sort.Strings(files)

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}
	return New(ctx, modules)
}

// New prepares the planner from rego sources keyed by file name
func New(ctx context.Context, modules map[string]string) (*Planner, error) {
	if len(modules) == 0 {
		return &Planner{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(Query))
	for name, src := range modules {
		options = append(options, rego.Module(name, src))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy query", goerr.V("query", Query))
	}
	return &Planner{query: &prepared}, nil
}

// Enabled reports whether any policy was loaded
func (p *Planner) Enabled() bool {
	return p != nil && p.query != nil
}

// Plan evaluates the policy. Steps naming an agent that is not in Input.Agents are
// dropped with a warning.
func (p *Planner) Plan(ctx context.Context, in Input) ([]Step, error) {
	if !p.Enabled() {
		return nil, nil
	}
	logger := logging.From(ctx)

	rs, err := p.query.Eval(ctx, rego.EvalInput(in.document()), rego.EvalPrintHook(&printHook{logger: logger}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate consultation policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := data["plan"]
	if !ok {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, goerr.New("invalid consultation policy result: plan is not a set", goerr.V("plan", raw))
	}

	known := make(map[string]bool, len(in.Agents))
	for _, a := range in.Agents {
		known[a.Slug] = true
	}

	steps := make([]Step, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, goerr.New("invalid consultation policy result: step is not an object", goerr.V("step", entry))
		}

		step := Step{
			Agent:   getString(m, "agent"),
			Command: getString(m, "command"),
		}
		if input, ok := m["input"].(map[string]any); ok {
			step.Input = input
		}
		if step.Agent == "" || step.Command == "" {
			return nil, goerr.New("invalid consultation policy result: agent and command are required", goerr.V("step", m))
		}
		if !known[step.Agent] {
			logger.Warn("policy planned an unavailable agent", "agent", step.Agent)
			continue
		}
		steps = append(steps, step)
	}

	return steps, nil
}

func (in Input) document() map[string]any {
	agents := make([]any, 0, len(in.Agents))
	for _, a := range in.Agents {
		capabilities := make([]any, 0, len(a.Capabilities))
		for _, c := range a.Capabilities {
			capabilities = append(capabilities, c.Name)
		}
		agents = append(agents, map[string]any{
			"slug":         a.Slug,
			"name":         a.Name,
			"priority":     a.Config.Priority,
			"capabilities": capabilities,
		})
	}

	memories := make([]any, 0, len(in.Memories))
	for _, m := range in.Memories {
		tags := make([]any, 0, len(m.Tags))
		for _, tag := range m.Tags.List() {
			tags = append(tags, tag)
		}
		memories = append(memories, map[string]any{
			"id":       string(m.ID),
			"content":  m.Content,
			"category": string(m.Category),
			"tags":     tags,
		})
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return map[string]any{
		"owner_id": in.OwnerID,
		"question": in.Question,
		"metadata": metadata,
		"agents":   agents,
		"memories": memories,
	}
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
