package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// DefaultTickInterval 是调度器调整 VU 数量的周期
const DefaultTickInterval = 50 * time.Millisecond

// Mode 定义执行模式的接口。
type Mode interface {
	// Name 返回执行模式的名称。
	Name() types.ExecutionMode

	// Run 使用给定配置启动执行模式。
	// 阻塞直到所有 VU 退出。
	Run(ctx context.Context, config *ModeConfig) error

	// Stop 优雅地停止执行模式并等待其结束。
	Stop(ctx context.Context) error

	// GetState 返回当前执行状态。
	GetState() *ModeState

	// VUStates 返回当前所有 VU 的状态快照。
	VUStates() []types.VUState
}

// IterationFunc 是执行单次迭代的函数签名。
// ctx 不会因停止信号而取消，进行中的请求总能完成。
type IterationFunc func(ctx context.Context, vuID int, iteration int) error

// VUFactory 创建一个 VU。返回错误表示本次创建失败，调度器会在下个周期重试。
type VUFactory func(id int, config *ModeConfig) (*VU, error)

// ModeConfig 包含执行模式的配置。
type ModeConfig struct {
	// StartVUs 是曲线在 t=0 的 VU 数量。
	StartVUs int

	// Stages 定义执行阶段。
	Stages []types.Stage

	// VUs 和 Duration 用于 constant-vus 模式。
	VUs      int
	Duration time.Duration

	// MaxVUs 限制同时存活的 VU 数量，0 表示不限制。
	MaxVUs int

	// Pacing 是每次迭代之后的等待时间。
	Pacing time.Duration

	// TickInterval 是调度周期，默认 50ms。
	TickInterval time.Duration

	// IterationFunc 是每次迭代执行的函数。
	IterationFunc IterationFunc

	// NewVU 创建 VU，为空时使用 DefaultVUFactory。
	NewVU VUFactory

	// Store 接收 vus、iterations 等内置指标，可为空。
	Store   *metrics.Store
	Builtin *metrics.BuiltinMetrics
	Tags    map[string]string

	// OnVUStart 在 VU 启动时调用。
	OnVUStart func(vuID int)

	// OnVUStop 在 VU 退出时调用。
	OnVUStop func(vuID int)

	// OnIterationComplete 在迭代完成时调用。
	OnIterationComplete func(vuID int, iteration int, duration time.Duration, err error)
}

func (c *ModeConfig) tickInterval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	return DefaultTickInterval
}

func (c *ModeConfig) factory() VUFactory {
	if c.NewVU != nil {
		return c.NewVU
	}
	return DefaultVUFactory
}

func (c *ModeConfig) validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if c.StartVUs < 0 {
		return fmt.Errorf("start_vus %d: %w", c.StartVUs, ErrNegativeTarget)
	}
	for i, s := range c.Stages {
		if s.Duration < 0 {
			return fmt.Errorf("stage %d: %w", i, ErrNegativeDuration)
		}
		if s.Target < 0 {
			return fmt.Errorf("stage %d: %w", i, ErrNegativeTarget)
		}
	}
	return nil
}

// ModeState 表示执行模式的当前状态。
type ModeState struct {
	// ActiveVUs 是状态为 running 的 VU 数量。
	ActiveVUs int

	// StoppingVUs 是已收到停止信号、尚未退出的 VU 数量。
	StoppingVUs int

	// TargetVUs 是当前曲线目标。
	TargetVUs int

	// MaxVUs 是运行期间同时存活 VU 数量的峰值。
	MaxVUs int

	// Deficit 是因 MaxVUs 或创建失败而未满足的 VU 数量。
	Deficit int

	// CompletedIterations 是已完成的迭代次数。
	CompletedIterations int64

	// Running 表示模式是否正在运行。
	Running bool

	// StartTime 是执行开始时间。
	StartTime time.Time

	// ElapsedTime 是已执行时长。
	ElapsedTime time.Duration

	// CurrentStage 是当前所处阶段的下标，所有阶段结束后等于阶段数。
	CurrentStage int
}

// BaseMode 为执行模式提供通用功能。
type BaseMode struct {
	name    types.ExecutionMode
	state   ModeState
	stateMu sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool

	stopOnce sync.Once
	doneOnce sync.Once
}

// NewBaseMode 创建一个新的基础模式。
func NewBaseMode(name types.ExecutionMode) *BaseMode {
	return &BaseMode{
		name:   name,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name 返回模式名称。
func (b *BaseMode) Name() types.ExecutionMode {
	return b.name
}

// GetState 返回当前状态。
func (b *BaseMode) GetState() *ModeState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	state := b.state
	if state.Running {
		state.ElapsedTime = time.Since(state.StartTime)
	}
	return &state
}

// SetState 更新状态。
func (b *BaseMode) SetState(fn func(*ModeState)) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	fn(&b.state)
}

// IsStopped 如果已请求停止则返回 true。
func (b *BaseMode) IsStopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop 发送停止信号。
func (b *BaseMode) RequestStop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// SignalDone 发送完成信号。
func (b *BaseMode) SignalDone() {
	b.doneOnce.Do(func() { close(b.doneCh) })
}

// WaitDone 等待模式完成。
func (b *BaseMode) WaitDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}

// Stop 请求停止并等待 Run 返回。Run 尚未开始时直接返回。
func (b *BaseMode) Stop(ctx context.Context) error {
	b.RequestStop()
	if !b.started.Load() {
		return nil
	}
	return b.WaitDone(ctx)
}
