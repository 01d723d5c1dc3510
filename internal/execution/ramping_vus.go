package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// RampingVUsMode implements the ramping-vus execution mode. Every tick it
// compares the running VU count with the interpolated target and spawns or
// stops VUs to match.
type RampingVUsMode struct {
	*BaseMode

	iterations atomic.Int64
	peak       atomic.Int32

	wg     sync.WaitGroup
	vuMu   sync.Mutex
	vus    []*VU // 按启动顺序排列，已停止的会被清理
	nextID int

	log *zap.SugaredLogger
}

// NewRampingVUsMode creates a new ramping VUs mode.
func NewRampingVUsMode() *RampingVUsMode {
	return newRampingVUsMode(types.ModeRampingVUs)
}

func newRampingVUsMode(name types.ExecutionMode) *RampingVUsMode {
	return &RampingVUsMode{
		BaseMode: NewBaseMode(name),
		nextID:   1,
		log:      logger.Named("scheduler"),
	}
}

// Run starts the scheduler and blocks until every VU has stopped.
func (m *RampingVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if err := config.validate(); err != nil {
		return err
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrModeAlreadyRunning
	}
	defer m.SignalDone()

	stages := config.Stages
	if len(stages) == 0 || m.IsStopped() {
		m.log.Debugw("no stages defined, nothing to run")
		return nil
	}

	start := time.Now()
	total := types.TotalDuration(stages)
	deadline := start.Add(total)

	m.SetState(func(s *ModeState) {
		s.Running = true
		s.StartTime = start
	})
	defer func() {
		m.SetState(func(s *ModeState) {
			s.Running = false
			s.ElapsedTime = time.Since(s.StartTime)
			s.ActiveVUs = 0
			s.StoppingVUs = 0
			s.CompletedIterations = m.iterations.Load()
		})
	}()

	wrapped := *config
	wrapped.OnIterationComplete = func(vuID int, iteration int, d time.Duration, err error) {
		m.iterations.Add(1)
		if config.OnIterationComplete != nil {
			config.OnIterationComplete(vuID, iteration, d, err)
		}
	}

	ticker := time.NewTicker(config.tickInterval())
	defer ticker.Stop()

	m.reconcile(ctx, &wrapped, 0, deadline)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-m.stopCh:
			break loop
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= total {
				break loop
			}
			m.reconcile(ctx, &wrapped, elapsed, deadline)
		}
	}

	m.stopAllVUs()
	m.wg.Wait()
	m.recordGauges(&wrapped, 0, 0)
	m.SetState(func(s *ModeState) { s.CurrentStage = StageIndexAt(stages, time.Since(start)) })
	return nil
}

// reconcile 根据曲线目标增减 VU
func (m *RampingVUsMode) reconcile(ctx context.Context, config *ModeConfig, elapsed time.Duration, deadline time.Time) {
	target := TargetAt(config.StartVUs, config.Stages, elapsed)

	m.vuMu.Lock()
	defer m.vuMu.Unlock()

	m.pruneLocked()
	running, stopping := m.countLocked()
	deficit := 0

	switch {
	case running < target:
		need := target - running
		allowed := need
		if config.MaxVUs > 0 {
			room := config.MaxVUs - (running + stopping)
			if room < allowed {
				allowed = max(room, 0)
			}
		}
		spawned := m.spawnLocked(ctx, config, allowed, deadline)
		running += spawned
		deficit = need - spawned

	case running > target:
		surplus := running - target
		// 停止最近启动的 VU
		for i := len(m.vus) - 1; i >= 0 && surplus > 0; i-- {
			vu := m.vus[i]
			if vu.Status() != types.VUStatusRunning {
				continue
			}
			vu.RequestStop()
			surplus--
			running--
			stopping++
		}
	}

	live := running + stopping
	for {
		peak := m.peak.Load()
		if int32(live) <= peak || m.peak.CompareAndSwap(peak, int32(live)) {
			break
		}
	}

	m.recordGauges(config, live, deficit)
	m.SetState(func(s *ModeState) {
		s.TargetVUs = target
		s.ActiveVUs = running
		s.StoppingVUs = stopping
		s.MaxVUs = int(m.peak.Load())
		s.Deficit = deficit
		s.CompletedIterations = m.iterations.Load()
		s.CurrentStage = StageIndexAt(config.Stages, elapsed)
	})
}

func (m *RampingVUsMode) spawnLocked(ctx context.Context, config *ModeConfig, n int, deadline time.Time) int {
	factory := config.factory()
	spawned := 0
	for ; spawned < n; spawned++ {
		vu, err := factory(m.nextID, config)
		if err != nil || vu == nil {
			m.log.Warnw("spawn VU failed, will retry next tick", "vu_id", m.nextID, "error", err)
			if config.Store != nil && config.Builtin != nil {
				config.Store.AddSamples(metrics.Sample{
					Metric: config.Builtin.VUSpawnFailures,
					Time:   time.Now(),
					Value:  1,
					Tags:   config.Tags,
				})
			}
			break
		}
		m.nextID++
		m.vus = append(m.vus, vu)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer logger.Recover("vu", nil)
			vu.Run(ctx, deadline)
		}()
	}
	return spawned
}

func (m *RampingVUsMode) pruneLocked() {
	kept := m.vus[:0]
	for _, vu := range m.vus {
		if vu.Status() != types.VUStatusStopped {
			kept = append(kept, vu)
		}
	}
	for i := len(kept); i < len(m.vus); i++ {
		m.vus[i] = nil
	}
	m.vus = kept
}

func (m *RampingVUsMode) countLocked() (running, stopping int) {
	for _, vu := range m.vus {
		switch vu.Status() {
		case types.VUStatusRunning:
			running++
		case types.VUStatusStopping:
			stopping++
		}
	}
	return running, stopping
}

func (m *RampingVUsMode) recordGauges(config *ModeConfig, live, deficit int) {
	if config.Store == nil || config.Builtin == nil {
		return
	}
	now := time.Now()
	b := config.Builtin
	config.Store.AddSamples(metrics.Samples{
		{Metric: b.VUs, Time: now, Value: float64(live), Tags: config.Tags},
		{Metric: b.VUsMax, Time: now, Value: float64(m.peak.Load()), Tags: config.Tags},
		{Metric: b.VUsDeficit, Time: now, Value: float64(deficit), Tags: config.Tags},
	})
}

// stopAllVUs signals every VU to stop after its current iteration.
func (m *RampingVUsMode) stopAllVUs() {
	m.vuMu.Lock()
	defer m.vuMu.Unlock()
	for _, vu := range m.vus {
		vu.RequestStop()
	}
}

// VUStates returns the state of every VU that has not been pruned yet.
func (m *RampingVUsMode) VUStates() []types.VUState {
	m.vuMu.Lock()
	defer m.vuMu.Unlock()
	states := make([]types.VUState, 0, len(m.vus))
	for _, vu := range m.vus {
		states = append(states, vu.State())
	}
	return states
}

// GetActiveVUs returns the number of running VUs.
func (m *RampingVUsMode) GetActiveVUs() int {
	m.vuMu.Lock()
	defer m.vuMu.Unlock()
	running, _ := m.countLocked()
	return running
}

// GetCompletedIterations returns the number of completed iterations.
func (m *RampingVUsMode) GetCompletedIterations() int64 {
	return m.iterations.Load()
}

// GetCurrentStage returns the current stage index.
func (m *RampingVUsMode) GetCurrentStage() int {
	return m.GetState().CurrentStage
}
