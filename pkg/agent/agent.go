package agent

import (
	"context"
	"fmt"

	"github.com/lifeops/lifeops/pkg/model"
)

// Context is the input of one agent execution
type Context struct {
	OwnerID    string           `json:"owner_id"`
	DecisionID model.DecisionID `json:"decision_id,omitempty"`
	Command    string           `json:"command"`
	Input      map[string]any   `json:"input,omitempty"`
}

// String returns Input[key] when it is a string
func (c *Context) String(key string) string {
	if c.Input == nil {
		return ""
	}
	s, _ := c.Input[key].(string)
	return s
}

// Result is what an execution produced. A failed execution carries Error and no Data.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Succeed builds a successful result
func Succeed(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a failed result. Implementations return it with a nil error for failures
// that retrying cannot fix.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Agent is a runtime implementation bound to a registry slug. Returning an error marks the
// attempt as failed; the runtime decides whether to retry it.
type Agent interface {
	Execute(ctx context.Context, input *Context) (*Result, error)
}

// Func adapts a function to Agent
type Func func(ctx context.Context, input *Context) (*Result, error)

func (f Func) Execute(ctx context.Context, input *Context) (*Result, error) {
	return f(ctx, input)
}
