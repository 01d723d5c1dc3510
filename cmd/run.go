package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"yqhp/load-engine/api/rest"
	"yqhp/load-engine/internal/output/summary"
	"yqhp/load-engine/internal/parser"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/runner"
	"yqhp/load-engine/pkg/types"
)

type runFlags struct {
	vus           int
	duration      time.Duration
	stages        []string
	outputs       []string
	tags          []string
	summaryExport string
	address       string
	noSummary     bool
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}
	runCmd := &cobra.Command{
		Use:   "run <script.yaml>",
		Short: "执行负载测试",
		Long: `执行 YAML 测试脚本。

执行模式：
  - ramping-vus: 按 stages 线性调整 VU 数（默认）
  - constant-vus: 在 duration 内保持固定 VU 数

退出码：0 表示所有阈值通过，99 表示阈值失败，1 表示配置错误或测试中止。`,
		Example: `  # 基本执行
  load-engine run script.yaml

  # 固定 10 个 VU 持续 30 秒
  load-engine run --vus 10 --duration 30s script.yaml

  # 覆盖阶段
  load-engine run --stage 10s:5 --stage 20s:5 --stage 5s:0 script.yaml

  # 输出样本和历史记录
  load-engine run --out json=samples.ndjson --out sqlite=history.db script.yaml

  # 开启控制面并导出汇总
  load-engine run --address localhost:6565 --summary-export summary.json script.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTest(cmd, args[0], f)
		},
	}

	runCmd.Flags().IntVarP(&f.vus, "vus", "u", 0, "虚拟用户数 (覆盖脚本配置)")
	runCmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "测试持续时间，与 --vus 一起使用时为固定负载")
	runCmd.Flags().StringArrayVarP(&f.stages, "stage", "s", nil, "负载阶段 (可多次指定)，格式: duration:target")
	runCmd.Flags().StringArrayVarP(&f.outputs, "out", "o", nil, "指标输出目标 (可多次指定)，格式: type=config")
	runCmd.Flags().StringArrayVar(&f.tags, "tag", nil, "全局标签 (可多次指定)，格式: key=value")
	runCmd.Flags().StringVar(&f.summaryExport, "summary-export", "", "将汇总以 JSON 写入文件，- 表示标准输出")
	runCmd.Flags().StringVarP(&f.address, "address", "a", "", "REST 控制面监听地址 (覆盖配置 api.address)")
	runCmd.Flags().BoolVar(&f.noSummary, "no-summary", false, "不打印结束汇总")
	return runCmd
}

func (f *runFlags) overrides() (parser.Overrides, error) {
	stages, err := parser.ParseStages(f.stages)
	if err != nil {
		return parser.Overrides{}, err
	}
	tags, err := parser.ParseTags(f.tags)
	if err != nil {
		return parser.Overrides{}, err
	}
	return parser.Overrides{VUs: f.vus, Duration: f.duration, Stages: stages, Tags: tags}, nil
}

// loadScript 解析脚本，应用命令行覆盖后再整体校验
func loadScript(path string, f *runFlags) (*types.TestScript, error) {
	p := parser.NewYAMLParser()
	script, err := p.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	if f != nil {
		o, err := f.overrides()
		if err != nil {
			return nil, err
		}
		if !o.Empty() {
			script = parser.ApplyOverrides(script, o)
		}
	}
	if err := p.Validate(script); err != nil {
		return nil, err
	}
	return script, nil
}

func (c *cli) runTest(cmd *cobra.Command, path string, f *runFlags) error {
	log := logger.Named("cmd")
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	script, err := loadScript(path, f)
	if err != nil {
		return fmt.Errorf("解析测试脚本失败: %w", err)
	}

	r, err := runner.NewTestRunner(runner.Options{
		Script:            script,
		HTTP:              c.cfg.HTTP.Transport(),
		TickInterval:      c.cfg.Engine.TickInterval,
		ThresholdInterval: c.cfg.Engine.ThresholdInterval,
		SamplesBuffer:     c.cfg.Engine.SamplesBuffer,
		ExactTrendLimit:   c.cfg.Engine.ExactTrendLimit,
	})
	if err != nil {
		return fmt.Errorf("初始化测试失败: %w", err)
	}
	for _, w := range r.Warnings() {
		log.Warnw("threshold warning", "warning", w)
	}

	if err := c.attachOutputs(r, script, f, stdout); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	address := f.address
	if address == "" {
		address = c.cfg.API.Address
	}
	if address != "" {
		stopServer := startControlSurface(r, address, c.cfg.API.EnableCORS)
		defer stopServer()
	}

	logger.SafeGo("signals", func() { handleSignals(ctx, cancel, r, stderr) })

	if !c.quiet {
		printRunInfo(stdout, script, r.RunID())
	}

	verdict, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("执行失败: %w", err)
	}

	if f.summaryExport != "" {
		if err := summary.Export(f.summaryExport, summary.Build(verdict, r.TimeSeries())); err != nil {
			log.Errorw("summary export failed", "path", f.summaryExport, "error", err)
		} else if f.summaryExport != "-" && !c.quiet {
			fmt.Fprintf(stdout, "\n汇总已写入: %s\n", f.summaryExport)
		}
	}

	return verdictError(verdict)
}

func (c *cli) attachOutputs(r *runner.TestRunner, script *types.TestScript, f *runFlags, stdout io.Writer) error {
	params := output.Params{
		Logger:   logger.Named("output"),
		Stdout:   stdout,
		RunID:    r.RunID(),
		TestName: script.Name,
		Tags:     script.Tags,
	}

	specs := f.outputs
	if !f.noSummary {
		specs = append([]string{"console"}, specs...)
	}
	for _, spec := range specs {
		typ, arg := output.ParseSpec(spec)
		p := params
		p.ConfigArgument = arg
		out, err := output.Create(typ, p)
		if err != nil {
			return fmt.Errorf("创建输出 %s 失败: %w", spec, err)
		}
		r.AddOutput(out)
	}
	return nil
}

// startControlSurface 在后台启动 REST 控制面，返回的函数负责关闭
func startControlSurface(r *runner.TestRunner, address string, cors bool) func() {
	log := logger.Named("cmd")
	srv := rest.NewServer(r.ControlSurface(), &rest.Config{
		Address:         address,
		EnableCORS:      cors,
		ShutdownTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	logger.SafeGo("control-surface", func() {
		defer close(done)
		if err := srv.StartWithContext(ctx); err != nil {
			log.Errorw("control surface stopped", "address", address, "error", err)
		}
	})
	log.Infow("control surface listening", "address", address)

	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
		}
	}
}

// handleSignals 第一次中断优雅停止，第二次中断取消上下文
func handleSignals(ctx context.Context, cancel context.CancelFunc, r *runner.TestRunner, stderr io.Writer) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
		return
	}
	fmt.Fprintln(stderr, "\n正在停止测试，再次中断将强制退出...")
	if err := r.Stop(); err != nil {
		logger.Warn("stop failed", "error", err)
	}

	select {
	case <-sigCh:
		cancel()
	case <-ctx.Done():
	}
}

// verdictError 把 verdict 映射为退出码
func verdictError(v *types.TestVerdict) error {
	code := v.ExitCode()
	switch code {
	case types.ExitOK:
		return nil
	case types.ExitThresholdsFailed:
		return &ExitError{Code: code, Err: fmt.Errorf("阈值检查失败: %d/%d", len(v.FailedThresholds), len(v.Thresholds))}
	default:
		reason := v.Reason
		if reason == "" {
			reason = "测试未通过"
		}
		return &ExitError{Code: code, Err: errors.New(reason)}
	}
}

func printRunInfo(w io.Writer, script *types.TestScript, runID string) {
	fmt.Fprintf(w, Banner, Version)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  脚本: %s\n", script.Name)
	fmt.Fprintf(w, "  运行 ID: %s\n", runID)

	mode := script.Mode
	if mode == "" {
		mode = types.ModeRampingVUs
	}
	fmt.Fprintf(w, "  执行模式: %s\n", mode)

	startVUs, stages := script.EffectiveStages()
	var total time.Duration
	for _, st := range stages {
		total += st.Duration
	}
	fmt.Fprintf(w, "  最大 VU 数: %d\n", types.MaxTarget(startVUs, stages))
	fmt.Fprintf(w, "  阶段数: %d, 总时长: %s\n", len(stages), total)
	fmt.Fprintf(w, "  请求数: %d, 阈值数: %d\n", len(script.Requests), len(script.Thresholds))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "执行中...")
	fmt.Fprintln(w)
}
