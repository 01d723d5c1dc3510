// Package runner runs one load test from start to verdict.
//
// Pipeline: setup → scheduler → VUs → Store → samplesChan → OutputManager
//
//	→ [Outputs] ; teardown → final threshold pass → TestVerdict
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yqhp/load-engine/internal/execution"
	"yqhp/load-engine/internal/executor"
	"yqhp/load-engine/internal/hook"
	metricsengine "yqhp/load-engine/internal/metrics/engine"
	"yqhp/load-engine/internal/thresholds"
	"yqhp/load-engine/internal/transport"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

// Options configures a TestRunner.
type Options struct {
	// Script 是要执行的测试（必填）
	Script *types.TestScript

	// Body 替换脚本中的 requests
	Body BodyFunc

	// Setup 和 Teardown 替换脚本中的声明式 hook
	Setup    hook.Func
	Teardown hook.Func

	// Transport 为空时使用 HTTP 配置创建 fasthttp 客户端
	Transport transport.Transport
	HTTP      transport.Config

	Outputs  []output.Output
	Registry *execution.Registry

	TickInterval      time.Duration
	ThresholdInterval time.Duration
	SamplesBuffer     int
	ExactTrendLimit   int
}

type compiledRequest struct {
	req    types.Request
	checks []executor.Check
}

// TestRunner drives a test through init → setup → running → teardown →
// evaluated and produces exactly one TestVerdict.
type TestRunner struct {
	opts   Options
	script *types.TestScript
	runID  string
	tags   map[string]string

	store         *metrics.Store
	builtin       *metrics.BuiltinMetrics
	thresholds    *thresholds.Set
	metricsEngine *metricsengine.MetricsEngine
	mode          execution.Mode
	requests      *executor.RequestExecutor
	checks        *executor.CheckRunner
	hooks         *hook.Runner
	compiled      []compiledRequest
	warnings      []string

	outputManager  *output.Manager
	controlSurface *controlsurface.ControlSurface

	phase        atomic.Value
	started      atomic.Bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	abortErr     atomic.Pointer[error]
	startTime    atomic.Int64
	runningStart atomic.Int64

	log *zap.SugaredLogger
}

// NewTestRunner validates opts and prepares a run. Every configuration
// fault is reported here, before any VU exists.
func NewTestRunner(opts Options) (*TestRunner, error) {
	if opts.Script == nil {
		return nil, ErrNilScript
	}
	if opts.Body == nil && len(opts.Script.Requests) == 0 {
		return nil, ErrNoBody
	}
	registry := opts.Registry
	if registry == nil {
		registry = execution.DefaultRegistry
	}
	mode, err := registry.GetOrDefault(opts.Script.Mode)
	if err != nil {
		return nil, err
	}

	set, err := thresholds.Compile(opts.Script.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	r := &TestRunner{
		opts:       opts,
		script:     opts.Script,
		runID:      uuid.New().String(),
		tags:       copyTags(opts.Script.Tags),
		store:      metrics.NewStore(metrics.WithExactTrendLimit(opts.ExactTrendLimit)),
		thresholds: set,
		mode:       mode,
		stopCh:     make(chan struct{}),
		log:        logger.Named("runner"),
	}
	r.phase.Store(types.PhaseInit)
	r.builtin = metrics.RegisterBuiltinMetrics(r.store)

	if err := r.declareMetrics(); err != nil {
		return nil, err
	}
	if err := r.compileRequests(); err != nil {
		return nil, err
	}

	r.metricsEngine = metricsengine.NewMetricsEngine(r.store, set, metricsengine.WithThresholdsRate(opts.ThresholdInterval))
	r.warnings, err = r.metricsEngine.InitThresholds()
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewFastHTTP(opts.HTTP)
	}
	r.requests = executor.NewRequestExecutor(tr, r.store, r.builtin)
	r.checks = executor.NewCheckRunner(r.store, r.builtin)
	r.hooks = hook.NewRunner(hook.NewHookExecutor(r.requests, r.checks))
	r.outputManager = output.NewManager(opts.Outputs...)
	r.controlSurface = r.newControlSurface()
	return r, nil
}

// declareMetrics 注册自定义指标、请求级计数器以及按请求名划分的子指标
func (r *TestRunner) declareMetrics() error {
	for _, decl := range r.script.Metrics {
		mt, err := metrics.ParseMetricType(decl.Type)
		if err != nil {
			return fmt.Errorf("metric %q: %w", decl.Name, err)
		}
		vt, err := parseValueType(decl.Contains)
		if err != nil {
			return fmt.Errorf("metric %q: %w", decl.Name, err)
		}
		if _, err := r.store.NewMetric(decl.Name, mt, vt); err != nil {
			return err
		}
	}

	for _, req := range r.script.Requests {
		for _, name := range req.Counters {
			if _, err := r.store.Counter(name); err != nil {
				return fmt.Errorf("request %q: %w", req.DisplayName(), err)
			}
		}
		byName := map[string]string{"name": req.DisplayName()}
		for _, parent := range []*metrics.Metric{r.builtin.HTTPReqDuration, r.builtin.HTTPReqFailed} {
			if _, err := r.store.Submetric(parent, byName); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *TestRunner) compileRequests() error {
	r.compiled = make([]compiledRequest, 0, len(r.script.Requests))
	for _, req := range r.script.Requests {
		checks, err := executor.CompileChecks(req.Checks)
		if err != nil {
			return fmt.Errorf("request %q: %w", req.DisplayName(), err)
		}
		r.compiled = append(r.compiled, compiledRequest{req: req, checks: checks})
	}
	return nil
}

// RunID returns the unique ID of this run.
func (r *TestRunner) RunID() string {
	return r.runID
}

// Store returns the run's metric store.
func (r *TestRunner) Store() *metrics.Store {
	return r.store
}

// Warnings returns the problems found at init that do not prevent the run,
// such as thresholds on metrics that do not exist yet.
func (r *TestRunner) Warnings() []string {
	return r.warnings
}

// Phase returns the current lifecycle phase.
func (r *TestRunner) Phase() types.RunPhase {
	return r.phase.Load().(types.RunPhase)
}

// ControlSurface returns the handle the REST layer uses.
func (r *TestRunner) ControlSurface() *controlsurface.ControlSurface {
	return r.controlSurface
}

// TimeSeries returns the per-second points collected while running.
func (r *TestRunner) TimeSeries() []*controlsurface.TimeSeriesPoint {
	return r.metricsEngine.GetTimeSeriesData()
}

// AddOutput registers an output. It must be called before Run.
func (r *TestRunner) AddOutput(out output.Output) {
	r.outputManager.AddOutput(out)
}

// Stop asks the run to end gracefully: VUs finish their current iteration,
// then teardown and evaluation run as usual. Safe to call more than once.
func (r *TestRunner) Stop() error {
	r.stopOnce.Do(func() {
		r.log.Infow("Stop requested", "phase", r.Phase())
		close(r.stopCh)
	})
	return nil
}

func (r *TestRunner) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// abort 由阈值引擎回调，只会触发一次
func (r *TestRunner) abort(err error) {
	r.abortErr.CompareAndSwap(nil, &err)
	r.log.Warnw("Aborting test", "reason", err)
	_ = r.Stop()
}

func (r *TestRunner) setPhase(p types.RunPhase) {
	r.phase.Store(p)
	r.log.Debugw("Phase changed", "run_id", r.runID, "phase", p)
}

// elapsed 是 running 阶段开始至今的时长，用于 delay_abort_eval
func (r *TestRunner) elapsed() time.Duration {
	start := r.runningStart.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Run executes the test and returns its verdict. The returned error is
// non-nil only when the run could not happen at all; a failed test is a
// verdict with Passed false.
func (r *TestRunner) Run(ctx context.Context) (*types.TestVerdict, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	r.startTime.Store(time.Now().UnixNano())

	// --- 指标管道 ---
	samplesChan := output.NewSamplesChannel(r.samplesBuffer())
	outputWait, outputFinish, err := r.outputManager.Start(samplesChan)
	if err != nil {
		return nil, fmt.Errorf("start outputs: %w", err)
	}
	r.store.Tap(samplesChan)

	r.log.Infow("Test started", "run_id", r.runID, "name", r.script.Name, "mode", r.mode.Name())

	// 1. setup
	r.setPhase(types.PhaseSetup)
	setupHook := &hook.Hook{Spec: r.script.Setup, Func: r.opts.Setup}
	setupResult, setupErr := r.hooks.RunSetup(ctx, setupHook)
	data := setupResult.Data

	// 2. running，setup 失败或已请求停止时跳过
	var runErr error
	var finalize func() []types.ThresholdResult
	switch {
	case setupErr != nil:
		r.log.Errorw("Skipping test body", "reason", setupErr)
	case r.stopRequested():
		r.log.Infow("Stopped before running, skipping test body")
	default:
		r.setPhase(types.PhaseRunning)
		r.runningStart.Store(time.Now().UnixNano())
		finalize = r.metricsEngine.StartThresholdCalculations(r.abort, r.elapsed)
		r.metricsEngine.StartTimeSeriesCollection(r.activeVUs)
		runErr = r.runBody(ctx, data)
		r.metricsEngine.StopTimeSeriesCollection()
	}

	// 3. teardown 总会执行，且不受取消影响
	r.setPhase(types.PhaseTeardown)
	teardownHook := &hook.Hook{Spec: r.script.Teardown, Func: r.opts.Teardown}
	_, teardownErr := r.hooks.RunTeardown(context.WithoutCancel(ctx), teardownHook, data, firstErr(setupErr, runErr))

	// --- 管道关闭 ---
	r.store.Untap()
	close(samplesChan)
	outputWait()

	// 4. 最终阈值评估
	var results []types.ThresholdResult
	if finalize != nil {
		results = finalize()
	} else {
		results = r.thresholds.Evaluate(r.store.Snapshot(r.elapsed()))
	}

	verdict := r.buildVerdict(results, setupErr, runErr, teardownErr)
	r.setPhase(types.PhaseEvaluated)
	r.controlSurface.SetVerdict(verdict)
	r.outputManager.SetVerdict(verdict)

	status := "completed"
	switch {
	case verdict.Aborted:
		status = "aborted"
	case !verdict.Passed:
		status = "failed"
	}
	outputFinish(output.RunStatus{
		Duration:   verdict.Duration.Seconds(),
		Iterations: r.iterations(),
		Status:     status,
		Error:      firstErr(setupErr, runErr, teardownErr),
	})

	r.log.Infow("Test finished",
		"run_id", r.runID,
		"passed", verdict.Passed,
		"failed_thresholds", len(verdict.FailedThresholds),
		"duration", verdict.Duration,
	)
	return verdict, nil
}

// runBody 运行调度器直到所有阶段结束或请求停止
func (r *TestRunner) runBody(ctx context.Context, data hook.Data) error {
	startVUs, stages := r.script.EffectiveStages()
	cfg := &execution.ModeConfig{
		StartVUs:      startVUs,
		Stages:        stages,
		VUs:           r.script.VUs,
		Duration:      r.script.Duration,
		MaxVUs:        r.script.MaxVUs,
		Pacing:        r.script.Pacing,
		TickInterval:  r.opts.TickInterval,
		IterationFunc: r.iterationFunc(data),
		Store:         r.store,
		Builtin:       r.builtin,
		Tags:          r.tags,
	}

	modeDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(modeDone)
		return r.mode.Run(gctx, cfg)
	})
	g.Go(func() error {
		select {
		case <-r.stopCh:
			// VU 完成当前迭代后退出
			return r.mode.Stop(context.WithoutCancel(gctx))
		case <-modeDone:
			return nil
		}
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	return nil
}

// iterationFunc 将脚本请求或 Body 转换为 VU 的迭代函数
func (r *TestRunner) iterationFunc(data hook.Data) execution.IterationFunc {
	if r.opts.Body != nil {
		return func(ctx context.Context, vuID int, iteration int) error {
			return r.opts.Body(ctx, &Env{
				VUID:      vuID,
				Iteration: iteration,
				Data:      data,
				Store:     r.store,
				Tags:      r.tags,
				requests:  r.requests,
				checks:    r.checks,
			})
		}
	}

	resolver := r.hooks.Resolver()
	requests := make([]compiledRequest, len(r.compiled))
	for i, c := range r.compiled {
		requests[i] = compiledRequest{req: resolver.ResolveRequest(c.req, data), checks: c.checks}
	}

	return func(ctx context.Context, _ int, _ int) error {
		for i := range requests {
			req := &requests[i].req
			resp := r.requests.Do(ctx, req, r.tags)
			r.checks.Run(resp, requests[i].checks, executor.RequestTags(req, resp, r.tags))
			if req.Sleep > 0 {
				time.Sleep(req.Sleep)
			}
		}
		return nil
	}
}

func (r *TestRunner) buildVerdict(results []types.ThresholdResult, setupErr, runErr, teardownErr error) *types.TestVerdict {
	start := time.Unix(0, r.startTime.Load())
	end := time.Now()
	v := &types.TestVerdict{
		RunID:            r.runID,
		Name:             r.script.Name,
		Thresholds:       results,
		FailedThresholds: thresholds.Failed(results),
		StartTime:        start,
		EndTime:          end,
		Duration:         end.Sub(start),
		Snapshot:         r.store.Snapshot(r.elapsed()),
	}

	var reasons []string
	if setupErr != nil {
		v.SetupFailed = true
		reasons = append(reasons, setupErr.Error())
	}
	if p := r.abortErr.Load(); p != nil {
		v.Aborted = true
		reasons = append(reasons, (*p).Error())
	}
	if runErr != nil {
		reasons = append(reasons, runErr.Error())
	}
	if teardownErr != nil {
		reasons = append(reasons, teardownErr.Error())
	}
	v.Reason = strings.Join(reasons, "; ")
	v.Passed = v.Reason == "" && len(v.FailedThresholds) == 0
	return v
}

func (r *TestRunner) newControlSurface() *controlsurface.ControlSurface {
	return &controlsurface.ControlSurface{
		MetricsEngine: r.metricsEngine,
		GetStatus: func() *controlsurface.ExecutionStatus {
			state := r.mode.GetState()
			var durationMs int64
			if start := r.startTime.Load(); start != 0 {
				durationMs = time.Since(time.Unix(0, start)).Milliseconds()
			}
			return &controlsurface.ExecutionStatus{
				RunID:            r.runID,
				Name:             r.script.Name,
				Phase:            r.Phase(),
				Running:          state.Running,
				VUs:              int64(state.ActiveVUs),
				TargetVUs:        int64(state.TargetVUs),
				MaxVUs:           int64(state.MaxVUs),
				Iterations:       r.iterations(),
				DurationMs:       durationMs,
				ThresholdsFailed: int(r.metricsEngine.GetBreachedThresholdsCount()),
			}
		},
		GetSnapshot: func() *metrics.Snapshot {
			return r.store.Snapshot(r.elapsed())
		},
		StopExecution: r.Stop,
		GetVUs:        r.activeVUs,
	}
}

func (r *TestRunner) activeVUs() int64 {
	return int64(r.mode.GetState().ActiveVUs)
}

func (r *TestRunner) iterations() int64 {
	if cs, ok := r.builtin.Iterations.Sink.(*metrics.CounterSink); ok {
		return int64(cs.Value())
	}
	return 0
}

func (r *TestRunner) samplesBuffer() int {
	if r.opts.SamplesBuffer > 0 {
		return r.opts.SamplesBuffer
	}
	return output.DefaultSamplesChannelSize
}

func parseValueType(s string) (metrics.ValueType, error) {
	switch vt := metrics.ValueType(strings.ToLower(strings.TrimSpace(s))); vt {
	case "":
		return metrics.Default, nil
	case metrics.Default, metrics.Time, metrics.Data:
		return vt, nil
	default:
		return "", fmt.Errorf("unknown value type %q", s)
	}
}

func copyTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
