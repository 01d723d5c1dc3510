// Package output fans metric samples out to reporting sinks.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Output 定义输出插件接口
type Output interface {
	// Description 返回输出插件的描述
	Description() string

	// Start 启动输出插件
	Start() error

	// Stop 停止输出插件，调用前所有样本都已送达
	Stop() error

	// AddMetricSamples 添加指标样本，不得阻塞
	AddMetricSamples(samples []metrics.SampleContainer)

	// SetRunStatus 设置运行状态（用于最终汇总）
	SetRunStatus(status RunStatus)
}

// VerdictReceiver is implemented by outputs that want the final verdict.
// SetVerdict is called once, before Stop.
type VerdictReceiver interface {
	SetVerdict(verdict *types.TestVerdict)
}

// RunStatus 表示测试运行状态
type RunStatus struct {
	Duration   float64 // 运行时长（秒）
	Iterations int64
	Status     string // completed, failed, aborted
	Error      error
}

// Params 是创建 Output 时的参数
type Params struct {
	// OutputType 输出类型
	OutputType string

	// ConfigArgument 配置参数（如文件路径）
	ConfigArgument string

	Logger *zap.SugaredLogger

	// Stdout 是控制台类输出的目标，默认 os.Stdout
	Stdout io.Writer

	RunID    string
	TestName string

	// Tags 全局标签
	Tags map[string]string
}

// Factory 是创建 Output 的工厂函数类型
type Factory func(params Params) (Output, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册输出工厂，通常在插件的 init 中调用
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get 获取输出工厂
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List 列出所有已注册的输出类型
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create 创建输出实例
func Create(outputType string, params Params) (Output, error) {
	factory, ok := Get(outputType)
	if !ok {
		return nil, &UnknownOutputError{Type: outputType, Known: List()}
	}
	params.OutputType = outputType
	if params.Logger == nil {
		params.Logger = zap.NewNop().Sugar()
	}
	return factory(params)
}

// ParseSpec splits a --out value such as "json=samples.ndjson".
func ParseSpec(spec string) (outputType, arg string) {
	outputType, arg, _ = strings.Cut(strings.TrimSpace(spec), "=")
	return outputType, arg
}

// UnknownOutputError 未知输出类型错误
type UnknownOutputError struct {
	Type  string
	Known []string
}

func (e *UnknownOutputError) Error() string {
	return fmt.Sprintf("unknown output type %q (available: %s)", e.Type, strings.Join(e.Known, ", "))
}
