// Package engine evaluates thresholds periodically while a test is running
// and collects a time series of key metrics for the control surface.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/internal/thresholds"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

const (
	// DefaultThresholdsRate 是测试运行期间阈值评估的周期
	DefaultThresholdsRate = 2 * time.Second
	timeSeriesRate        = 1 * time.Second
)

// TimeSeriesPoint is an alias for the controlsurface type.
type TimeSeriesPoint = controlsurface.TimeSeriesPoint

// MetricsEngine evaluates thresholds against snapshots of a metric store.
type MetricsEngine struct {
	store      *metrics.Store
	thresholds *thresholds.Set
	rate       time.Duration
	log        *zap.SugaredLogger

	breachedThresholdsCount atomic.Uint32
	aborted                 atomic.Bool

	resultsMu   sync.Mutex
	lastResults []types.ThresholdResult

	// 时序快照，供 REST 接口使用
	timeSeriesMu   sync.Mutex
	timeSeriesData []*TimeSeriesPoint
	snapshotStop   chan struct{}
	snapshotDone   chan struct{}

	startTime time.Time
}

// Option configures a MetricsEngine.
type Option func(*MetricsEngine)

// WithThresholdsRate overrides the periodic evaluation interval.
func WithThresholdsRate(d time.Duration) Option {
	return func(me *MetricsEngine) {
		if d > 0 {
			me.rate = d
		}
	}
}

// NewMetricsEngine creates a MetricsEngine. set may be nil when the test
// defines no thresholds.
func NewMetricsEngine(store *metrics.Store, set *thresholds.Set, opts ...Option) *MetricsEngine {
	me := &MetricsEngine{
		store:      store,
		thresholds: set,
		rate:       DefaultThresholdsRate,
		log:        logger.Named("metrics-engine"),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(me)
	}
	return me
}

// InitThresholds binds thresholds to the store: submetrics are created and
// unknown metrics are logged. Unknown metrics still fail at evaluation.
func (me *MetricsEngine) InitThresholds() ([]string, error) {
	if me.thresholds.Len() == 0 {
		return nil, nil
	}
	warnings, err := me.thresholds.Bind(me.store)
	for _, w := range warnings {
		me.log.Warnw("Threshold references unknown metric", "detail", w)
	}
	return warnings, err
}

// StartThresholdCalculations starts a goroutine that evaluates thresholds
// periodically and returns a finalize callback. finalize stops the goroutine
// and performs the last evaluation, which is the one the verdict uses.
func (me *MetricsEngine) StartThresholdCalculations(
	abortRun func(error),
	getCurrentDuration func() time.Duration,
) (finalize func() []types.ThresholdResult) {
	if me.thresholds.Len() == 0 {
		return func() []types.ThresholdResult { return nil }
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer logger.Recover("threshold-calculations", nil)
		ticker := time.NewTicker(me.rate)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_, breached, shouldAbort := me.evaluateThresholds(getCurrentDuration(), true)
				if shouldAbort && abortRun != nil && me.aborted.CompareAndSwap(false, true) {
					abortRun(fmt.Errorf(
						"thresholds on metrics '%s' were crossed; abortOnFail enabled",
						strings.Join(breached, ", "),
					))
				}
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	var final []types.ThresholdResult
	return func() []types.ThresholdResult {
		once.Do(func() {
			close(stop)
			<-done
			final, _, _ = me.evaluateThresholds(getCurrentDuration(), false)
		})
		return final
	}
}

// evaluateThresholds 对当前快照求值。checkAbort 为 true 时，
// shouldAbort 只考虑设置了 abortOnFail 且已过延迟期的阈值。
func (me *MetricsEngine) evaluateThresholds(
	elapsed time.Duration,
	checkAbort bool,
) (results []types.ThresholdResult, breached []string, shouldAbort bool) {
	snap := me.store.Snapshot(elapsed)
	results = me.thresholds.Evaluate(snap)

	seen := make(map[string]bool)
	for i, th := range me.thresholds.Thresholds() {
		if results[i].Passed {
			continue
		}
		if !seen[th.Definition.Metric] {
			seen[th.Definition.Metric] = true
			breached = append(breached, th.Definition.Metric)
		}
		// 没有样本的指标在运行中不触发中止，最终求值仍按失败处理
		if checkAbort && results[i].Reason == "" && th.ShouldAbort(elapsed) {
			shouldAbort = true
		}
	}

	me.breachedThresholdsCount.Store(uint32(len(thresholds.Failed(results))))
	me.resultsMu.Lock()
	me.lastResults = results
	me.resultsMu.Unlock()

	if len(breached) > 0 {
		me.log.Debugw("Thresholds breached", "metrics", breached, "elapsed", elapsed)
	}
	return results, breached, shouldAbort
}

// GetBreachedThresholdsCount returns the number of failing thresholds at the
// last evaluation.
func (me *MetricsEngine) GetBreachedThresholdsCount() uint32 {
	return me.breachedThresholdsCount.Load()
}

// LastResults returns the results of the most recent evaluation.
func (me *MetricsEngine) LastResults() []types.ThresholdResult {
	me.resultsMu.Lock()
	defer me.resultsMu.Unlock()
	out := make([]types.ThresholdResult, len(me.lastResults))
	copy(out, me.lastResults)
	return out
}
