// Package console prints the end-of-test summary.
package console

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

func init() {
	output.Register("console", New)
}

// Output 控制台输出。运行期间只统计请求数，结束时根据 verdict 打印汇总。
type Output struct {
	params    output.Params
	w         io.Writer
	mu        sync.Mutex
	runStatus output.RunStatus
	verdict   *types.TestVerdict
	startTime time.Time

	totalRequests atomic.Int64
	iterations    atomic.Int64
}

// New 创建控制台输出
func New(params output.Params) (output.Output, error) {
	w := params.Stdout
	if w == nil {
		w = os.Stdout
	}
	return &Output{params: params, w: w}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return "console"
}

// Start 启动输出
func (o *Output) Start() error {
	o.startTime = time.Now()
	return nil
}

// Stop 打印最终汇总
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.verdict == nil {
		return nil
	}
	return RenderSummary(o.w, o.verdict)
}

// AddMetricSamples 添加指标样本
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			switch sample.Metric.Name {
			case metrics.HTTPReqsName:
				o.totalRequests.Add(1)
			case metrics.IterationsName:
				o.iterations.Add(1)
			}
		}
	}
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

// SetVerdict 保存最终结果，Stop 时打印
func (o *Output) SetVerdict(verdict *types.TestVerdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdict = verdict
}

// GetStats 获取运行期间的统计数据
func (o *Output) GetStats() map[string]any {
	duration := time.Since(o.startTime).Seconds()
	total := o.totalRequests.Load()
	stats := map[string]any{
		"duration":   duration,
		"requests":   total,
		"iterations": o.iterations.Load(),
		"rps":        0.0,
	}
	if total > 0 && duration > 0 {
		stats["rps"] = float64(total) / duration
	}
	return stats
}
