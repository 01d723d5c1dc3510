package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

const (
	statusRunning int32 = iota
	statusStopping
	statusStopped
)

// VU is one virtual user. It runs iterations until it is asked to stop,
// the run context ends or the deadline passes, checking only between
// iterations.
type VU struct {
	ID int

	config     *ModeConfig
	status     atomic.Int32
	iterations atomic.Int64
	startedAt  time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// DefaultVUFactory creates a VU that never fails to spawn.
func DefaultVUFactory(id int, config *ModeConfig) (*VU, error) {
	return NewVU(id, config), nil
}

// NewVU creates a VU in the running state. Call Run to start it.
func NewVU(id int, config *ModeConfig) *VU {
	return &VU{
		ID:        id,
		config:    config,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Status returns the lifecycle status.
func (vu *VU) Status() types.VUStatus {
	switch vu.status.Load() {
	case statusStopping:
		return types.VUStatusStopping
	case statusStopped:
		return types.VUStatusStopped
	default:
		return types.VUStatusRunning
	}
}

// State returns a point-in-time view of the VU.
func (vu *VU) State() types.VUState {
	return types.VUState{
		ID:         vu.ID,
		Status:     vu.Status(),
		Iterations: vu.iterations.Load(),
		StartedAt:  vu.startedAt,
	}
}

// Iterations returns the number of completed iterations.
func (vu *VU) Iterations() int64 {
	return vu.iterations.Load()
}

// RequestStop moves a running VU to stopping. The VU exits at the next
// loop-top; an iteration in flight is not interrupted.
func (vu *VU) RequestStop() {
	vu.status.CompareAndSwap(statusRunning, statusStopping)
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// Done is closed once the VU has stopped.
func (vu *VU) Done() <-chan struct{} {
	return vu.doneCh
}

// Run executes the VU loop and blocks until the VU stops. A zero deadline
// means no deadline.
func (vu *VU) Run(ctx context.Context, deadline time.Time) {
	cfg := vu.config
	defer func() {
		vu.status.Store(statusStopped)
		if cfg.OnVUStop != nil {
			cfg.OnVUStop(vu.ID)
		}
		close(vu.doneCh)
	}()

	if cfg.OnVUStart != nil {
		cfg.OnVUStart(vu.ID)
	}

	// 迭代上下文与取消解耦，停止信号不会中断进行中的请求
	iterCtx := context.WithoutCancel(ctx)

	for iteration := 0; ; iteration++ {
		if vu.shouldStop(ctx, deadline) {
			return
		}

		vu.runIteration(iterCtx, iteration)

		if cfg.Pacing > 0 {
			timer := time.NewTimer(cfg.Pacing)
			select {
			case <-timer.C:
			case <-vu.stopCh:
			case <-ctx.Done():
			}
			timer.Stop()
		}
	}
}

func (vu *VU) shouldStop(ctx context.Context, deadline time.Time) bool {
	select {
	case <-vu.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
	}
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

func (vu *VU) runIteration(ctx context.Context, iteration int) {
	cfg := vu.config
	start := time.Now()
	err := vu.call(ctx, iteration)
	duration := time.Since(start)
	vu.iterations.Add(1)

	if err != nil {
		logger.Debug("iteration failed", "vu_id", vu.ID, "iteration", iteration, "error", err)
	}
	vu.record(start.Add(duration), duration, err)

	if cfg.OnIterationComplete != nil {
		cfg.OnIterationComplete(vu.ID, iteration, duration, err)
	}
}

// call 执行迭代函数，panic 被转换为错误
func (vu *VU) call(ctx context.Context, iteration int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()
	return vu.config.IterationFunc(ctx, vu.ID, iteration)
}

func (vu *VU) record(now time.Time, duration time.Duration, err error) {
	cfg := vu.config
	if cfg.Store == nil || cfg.Builtin == nil {
		return
	}
	samples := []metrics.Sample{
		{Metric: cfg.Builtin.Iterations, Time: now, Value: 1, Tags: cfg.Tags},
		{Metric: cfg.Builtin.IterationDuration, Time: now, Value: float64(duration) / float64(time.Millisecond), Tags: cfg.Tags},
	}
	if err != nil {
		samples = append(samples, metrics.Sample{Metric: cfg.Builtin.IterationErrors, Time: now, Value: 1, Tags: cfg.Tags})
	}
	cfg.Store.AddSamples(metrics.ConnectedSamples{Samples: samples, Tags: cfg.Tags, Time: now})
}
