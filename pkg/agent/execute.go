package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Execute runs the implementation bound to record. It never panics and never returns an
// error: every failure, including timeouts and panics, becomes a failed Result. Each attempt
// is bounded by the record's timeout; failed attempts are retried up to MaxRetries times
// unless the failure is permanent.
func (r *Runtime) Execute(ctx context.Context, record *model.Agent, input Context) Result {
	if record == nil {
		return Result{Error: "unknown agent"}
	}
	if !record.Config.Enabled {
		return Result{Error: fmt.Sprintf("agent %s is disabled", record.Slug)}
	}

	impl, ok := r.impl(record.Slug)
	if !ok {
		return Result{Error: fmt.Sprintf("no implementation bound for agent %s", record.Slug)}
	}

	logger := logging.From(ctx).With("agent", record.Slug, "command", input.Command)
	interval := r.retryInterval

	retries := max(record.Config.MaxRetries, 0)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Error: fmt.Sprintf("agent %s canceled: %v", record.Slug, ctx.Err())}
			case <-time.After(interval):
			}
			interval *= 2
		}

		res, err := r.attempt(ctx, impl, record, &input)
		if err == nil {
			if res == nil {
				return Result{Error: fmt.Sprintf("agent %s returned no result", record.Slug)}
			}
			if !res.Success && res.Error == "" {
				res.Error = "agent reported failure"
			}
			return *res
		}

		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
		logger.Warn("agent attempt failed", "attempt", attempt+1, "error", err)
	}

	logger.Warn("agent execution failed", "error", lastErr)
	return Result{Error: lastErr.Error()}
}

// attempt runs impl once under the per-attempt timeout, converting panics to errors. The
// result is abandoned when the deadline passes even if impl ignores its context.
func (r *Runtime) attempt(ctx context.Context, impl Agent, record *model.Agent, input *Context) (*Result, error) {
	if record.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, record.Config.Timeout)
		defer cancel()
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome{err: goerr.New("agent panicked", goerr.V("panic", fmt.Sprint(v)), goerr.V("slug", record.Slug))}
			}
		}()
		res, err := impl.Execute(ctx, input)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, goerr.Wrap(ctx.Err(), fmt.Sprintf("agent %s timed out after %s", record.Slug, record.Config.Timeout))
		}
		return nil, goerr.Wrap(ctx.Err(), fmt.Sprintf("agent %s canceled", record.Slug))
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrQuotaExceeded),
		errors.Is(err, model.ErrNotFound):
		return false
	default:
		return true
	}
}

// Request is one consultation for ExecuteAll
type Request struct {
	Agent *model.Agent
	Input Context
}

// ExecuteAll runs requests with at most concurrency executions in flight. onDone is called
// once per request as each finishes; calls are serialized. Results are returned in request
// order.
func (r *Runtime) ExecuteAll(ctx context.Context, requests []Request, concurrency int, onDone func(Request, Result)) []Result {
	results := make([]Result, len(requests))
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		eg     errgroup.Group
		doneMu sync.Mutex
	)
	eg.SetLimit(concurrency)

	for i, req := range requests {
		eg.Go(func() error {
			res := r.Execute(ctx, req.Agent, req.Input)
			results[i] = res

			if onDone != nil {
				doneMu.Lock()
				defer doneMu.Unlock()
				onDone(req, res)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return results
}
