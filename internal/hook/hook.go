package hook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/internal/executor"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// HookType represents the phase a hook runs in.
type HookType string

const (
	// HookTypeSetup runs before the first VU starts.
	HookTypeSetup HookType = "setup"
	// HookTypeTeardown runs after the last VU stopped.
	HookTypeTeardown HookType = "teardown"
)

// PhaseTag 是 hook 期间产生的样本携带的标签
const PhaseTag = "phase"

// Data 是 setup 阶段产出、供后续请求引用的数据
type Data map[string]any

// Func is a programmatic hook. A setup Func returns the data later phases
// can reference; a teardown Func receives it.
type Func func(ctx context.Context, data Data) (Data, error)

// Hook is either a declarative spec or a function. Func wins when both are
// set.
type Hook struct {
	Spec *types.HookSpec
	Func Func
}

// Empty reports whether there is nothing to run.
func (h *Hook) Empty() bool {
	return h == nil || (h.Func == nil && (h.Spec == nil || (h.Spec.Sleep == 0 && len(h.Spec.Requests) == 0)))
}

// HookResult contains the result of a hook execution.
type HookResult struct {
	HookType  HookType
	Passed    bool
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Data      Data
	Error     error
}

// HookError represents an error during hook execution.
type HookError struct {
	HookType HookType
	Request  string // 声明式 hook 中出错的请求名称
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	msg := fmt.Sprintf("[%s hook] %s", e.HookType, e.Message)
	if e.Request != "" {
		msg = fmt.Sprintf("[%s hook, request %s] %s", e.HookType, e.Request, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Cause
}

// NewHookError creates a new HookError.
func NewHookError(hookType HookType, request, message string, cause error) *HookError {
	return &HookError{
		HookType: hookType,
		Request:  request,
		Message:  message,
		Cause:    cause,
	}
}

// HookExecutor executes hooks through the same request and check pipeline
// the VUs use, so hook requests show up in the metrics tagged with phase.
type HookExecutor struct {
	requests *executor.RequestExecutor
	checks   *executor.CheckRunner
	resolver *VariableResolver
	log      *zap.SugaredLogger
}

// NewHookExecutor creates a new HookExecutor. requests may be nil when
// only programmatic hooks are used.
func NewHookExecutor(requests *executor.RequestExecutor, checks *executor.CheckRunner) *HookExecutor {
	return &HookExecutor{
		requests: requests,
		checks:   checks,
		resolver: NewVariableResolver(),
		log:      logger.Named("hook"),
	}
}

// ExecuteHook runs hook and returns its result. A nil or empty hook yields
// a passed result carrying data unchanged.
func (h *HookExecutor) ExecuteHook(ctx context.Context, hook *Hook, hookType HookType, data Data) (*HookResult, error) {
	startTime := time.Now()
	result := &HookResult{HookType: hookType, StartTime: startTime, Data: data}

	var err error
	switch {
	case hook.Empty():
	case hook.Func != nil:
		result.Data, err = h.callFunc(ctx, hook.Func, hookType, data)
	default:
		result.Data, err = h.executeSpec(ctx, hook.Spec, hookType, data)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	if err != nil {
		result.Error = err
		return result, err
	}
	result.Passed = true
	return result, nil
}

func (h *HookExecutor) callFunc(ctx context.Context, fn Func, hookType HookType, data Data) (out Data, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewHookError(hookType, "", "hook panicked", fmt.Errorf("%v", r))
		}
	}()
	out, err = fn(ctx, data)
	if err != nil {
		return data, NewHookError(hookType, "", "hook function failed", err)
	}
	if out == nil {
		out = data
	}
	return out, nil
}

func (h *HookExecutor) executeSpec(ctx context.Context, spec *types.HookSpec, hookType HookType, data Data) (Data, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	if err := sleep(ctx, spec.Sleep); err != nil {
		return data, NewHookError(hookType, "", "interrupted during sleep", err)
	}

	out := make(Data, len(data))
	for k, v := range data {
		out[k] = v
	}

	for i := range spec.Requests {
		if h.requests == nil {
			return out, NewHookError(hookType, "", "no request executor configured", nil)
		}
		req := h.resolver.ResolveRequest(spec.Requests[i], out)
		name := req.DisplayName()

		checks, err := executor.CompileChecks(req.Checks)
		if err != nil {
			return out, NewHookError(hookType, name, "invalid checks", err)
		}

		tags := map[string]string{PhaseTag: string(hookType)}
		resp := h.requests.Do(ctx, &req, tags)
		if resp.Failed {
			return out, NewHookError(hookType, name, "request failed", fmt.Errorf("%s: %s", resp.ErrorKind, resp.Error))
		}
		if len(checks) > 0 && !h.checks.Run(resp, checks, executor.RequestTags(&req, resp, tags)) {
			return out, NewHookError(hookType, name, "checks failed", nil)
		}

		for key, expr := range req.Extract {
			v := executor.JSONPath(resp, expr)
			if v == nil {
				return out, NewHookError(hookType, name, fmt.Sprintf("extract %q: %s matched nothing", key, expr), nil)
			}
			out[key] = v
		}
		h.log.Debugw("hook request done", "hook", hookType, "request", name, "status", resp.Status)

		if err := sleep(ctx, req.Sleep); err != nil {
			return out, NewHookError(hookType, name, "interrupted during sleep", err)
		}
	}
	return out, nil
}

// sleep 等待 d，ctx 结束时提前返回错误
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
