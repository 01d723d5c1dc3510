package hook

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
)

// Runner manages the setup and teardown of one test run.
type Runner struct {
	hookExecutor *HookExecutor
	log          *zap.SugaredLogger
}

// NewRunner creates a new hook Runner.
func NewRunner(exec *HookExecutor) *Runner {
	return &Runner{
		hookExecutor: exec,
		log:          logger.Named("hook"),
	}
}

// RunSetup executes the setup hook. An error means the test body must be
// skipped; teardown should still run.
func (r *Runner) RunSetup(ctx context.Context, setup *Hook) (*HookResult, error) {
	r.log.Infow("running setup")
	result, err := r.hookExecutor.ExecuteHook(ctx, setup, HookTypeSetup, Data{})
	if err != nil {
		r.log.Errorw("setup failed, skipping test body", "error", err, "duration", result.Duration)
		return result, fmt.Errorf("setup failed: %w", err)
	}
	r.log.Infow("setup done", "duration", result.Duration, "data_keys", len(result.Data))
	return result, nil
}

// RunTeardown executes the teardown hook. It is always called, whatever
// happened before; runErr is exposed to the hook as data["error"].
func (r *Runner) RunTeardown(ctx context.Context, teardown *Hook, data Data, runErr error) (*HookResult, error) {
	in := make(Data, len(data)+1)
	for k, v := range data {
		in[k] = v
	}
	if runErr != nil {
		in["error"] = runErr.Error()
	}

	r.log.Infow("running teardown")
	result, err := r.hookExecutor.ExecuteHook(ctx, teardown, HookTypeTeardown, in)
	if err != nil {
		r.log.Errorw("teardown failed", "error", err, "duration", result.Duration)
		return result, fmt.Errorf("teardown failed: %w", err)
	}
	r.log.Infow("teardown done", "duration", result.Duration)
	return result, nil
}

// Resolver returns the resolver used to substitute setup data.
func (r *Runner) Resolver() *VariableResolver {
	return r.hookExecutor.resolver
}
