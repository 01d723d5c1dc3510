package output

import (
	"fmt"
	"sync"
	"time"

	"yqhp/load-engine/pkg/metrics"
)

// SampleBuffer 是线程安全的样本缓冲区，输出插件可以嵌入它，
// 在 AddMetricSamples 中只做追加，由 PeriodicFlusher 批量处理。
type SampleBuffer struct {
	mu      sync.Mutex
	samples []metrics.SampleContainer
}

// AddMetricSamples buffers the given sample containers.
func (sb *SampleBuffer) AddMetricSamples(samples []metrics.SampleContainer) {
	sb.mu.Lock()
	sb.samples = append(sb.samples, samples...)
	sb.mu.Unlock()
}

// GetBufferedSamples returns all buffered samples and resets the buffer.
func (sb *SampleBuffer) GetBufferedSamples() []metrics.SampleContainer {
	sb.mu.Lock()
	samples := sb.samples
	sb.samples = nil
	sb.mu.Unlock()
	return samples
}

// PeriodicFlusher calls a flush function at a regular interval and once
// more on Stop.
type PeriodicFlusher struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewPeriodicFlusher starts a flusher calling flushFunc every interval.
func NewPeriodicFlusher(interval time.Duration, flushFunc func()) (*PeriodicFlusher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %s", interval)
	}
	pf := &PeriodicFlusher{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(pf.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				flushFunc()
			case <-pf.stop:
				flushFunc()
				return
			}
		}
	}()

	return pf, nil
}

// Stop signals the flusher to stop and waits for the final flush. Safe to
// call more than once.
func (pf *PeriodicFlusher) Stop() {
	pf.stopOnce.Do(func() { close(pf.stop) })
	<-pf.done
}
