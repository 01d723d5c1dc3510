package runner

import (
	"context"

	"yqhp/load-engine/internal/executor"
	"yqhp/load-engine/internal/hook"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// BodyFunc is a programmatic test body, called once per VU iteration.
// A returned error is recorded in iteration_errors and never stops the VU.
type BodyFunc func(ctx context.Context, env *Env) error

// Env is what a test body sees during one iteration.
type Env struct {
	VUID      int
	Iteration int

	// Data 是 setup 返回的数据，只读
	Data hook.Data

	Store *metrics.Store
	Tags  map[string]string

	requests *executor.RequestExecutor
	checks   *executor.CheckRunner
}

// Do sends req through the run's request pipeline and evaluates checks
// against the response. It reports whether every check passed.
func (e *Env) Do(ctx context.Context, req *types.Request, checks ...executor.Check) (*types.Response, bool) {
	resp := e.requests.Do(ctx, req, e.Tags)
	ok := e.checks.Run(resp, checks, executor.RequestTags(req, resp, e.Tags))
	return resp, ok
}
