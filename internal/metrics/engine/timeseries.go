package engine

import (
	"time"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
)

// RealtimeMetrics is an alias for the controlsurface type.
type RealtimeMetrics = controlsurface.RealtimeMetrics

// RequestMetricStats is an alias for the controlsurface type.
type RequestMetricStats = controlsurface.RequestMetricStats

// StartTimeSeriesCollection starts periodic snapshots of aggregated metrics.
func (me *MetricsEngine) StartTimeSeriesCollection(getVUs func() int64) {
	me.startTime = time.Now()
	me.snapshotStop = make(chan struct{})
	me.snapshotDone = make(chan struct{})

	go func() {
		defer close(me.snapshotDone)
		defer logger.Recover("time-series", nil)
		ticker := time.NewTicker(timeSeriesRate)
		defer ticker.Stop()

		var last *TimeSeriesPoint
		var lastReqs float64
		var lastSent, lastReceived float64

		for {
			select {
			case now := <-ticker.C:
				elapsed := now.Sub(me.startTime)
				snap := me.store.Snapshot(elapsed)
				point := buildPoint(snap, now, elapsed, getVUs())

				reqs := counterValue(snap, metrics.HTTPReqsName)
				sent := counterValue(snap, metrics.DataSentName)
				received := counterValue(snap, metrics.DataReceivedName)
				seconds := timeSeriesRate.Seconds()
				if last != nil {
					seconds = float64(point.ElapsedMs-last.ElapsedMs) / 1000
				}
				if seconds > 0 {
					point.RPS = (reqs - lastReqs) / seconds
					point.DataSentPerSec = (sent - lastSent) / seconds
					point.DataReceivedPerSec = (received - lastReceived) / seconds
				}
				lastReqs, lastSent, lastReceived = reqs, sent, received
				last = point

				me.timeSeriesMu.Lock()
				me.timeSeriesData = append(me.timeSeriesData, point)
				me.timeSeriesMu.Unlock()

			case <-me.snapshotStop:
				return
			}
		}
	}()
}

func buildPoint(snap *metrics.Snapshot, now time.Time, elapsed time.Duration, vus int64) *TimeSeriesPoint {
	point := &TimeSeriesPoint{
		Timestamp:  now.Format(time.RFC3339),
		ElapsedMs:  elapsed.Milliseconds(),
		Iterations: int64(counterValue(snap, metrics.IterationsName)),
		ActiveVUs:  vus,
	}
	if ms, ok := snap.Get(metrics.HTTPReqDurationName); ok && !ms.Empty() {
		point.AvgRT = ms.Values["avg"]
		point.P50RT = ms.Values["med"]
		point.P90RT = ms.Values["p(90)"]
		point.P95RT = ms.Values["p(95)"]
		point.P99RT = ms.Values["p(99)"]
	}
	if ms, ok := snap.Get(metrics.HTTPReqFailedName); ok {
		point.ErrorRate = ms.Values["rate"] * 100
	}
	return point
}

func counterValue(snap *metrics.Snapshot, name string) float64 {
	if ms, ok := snap.Get(name); ok {
		return ms.Values["count"]
	}
	return 0
}

// StopTimeSeriesCollection stops the periodic snapshots and waits for the
// collector to exit.
func (me *MetricsEngine) StopTimeSeriesCollection() {
	if me.snapshotStop == nil {
		return
	}
	select {
	case <-me.snapshotStop:
	default:
		close(me.snapshotStop)
	}
	<-me.snapshotDone
}

// GetTimeSeriesData returns a copy of all time-series snapshots.
func (me *MetricsEngine) GetTimeSeriesData() []*TimeSeriesPoint {
	me.timeSeriesMu.Lock()
	defer me.timeSeriesMu.Unlock()
	result := make([]*TimeSeriesPoint, len(me.timeSeriesData))
	copy(result, me.timeSeriesData)
	return result
}

// GetLatestSnapshot returns the most recent time-series snapshot.
func (me *MetricsEngine) GetLatestSnapshot() *TimeSeriesPoint {
	me.timeSeriesMu.Lock()
	defer me.timeSeriesMu.Unlock()
	if len(me.timeSeriesData) == 0 {
		return nil
	}
	return me.timeSeriesData[len(me.timeSeriesData)-1]
}

// BuildRealtimeMetrics constructs a RealtimeMetrics view from the store.
func (me *MetricsEngine) BuildRealtimeMetrics(status string, getVUs func() int64) *RealtimeMetrics {
	elapsed := time.Since(me.startTime)
	snap := me.store.Snapshot(elapsed)

	rm := &RealtimeMetrics{
		Status:           status,
		ElapsedMs:        elapsed.Milliseconds(),
		TotalVUs:         getVUs(),
		TotalIterations:  int64(counterValue(snap, metrics.IterationsName)),
		ThresholdsFailed: int(me.GetBreachedThresholdsCount()),
	}
	if latest := me.GetLatestSnapshot(); latest != nil {
		rm.RPS = latest.RPS
		rm.ErrorRate = latest.ErrorRate
	}
	rm.RequestMetrics = buildRequestMetrics(snap)
	return rm
}

// buildRequestMetrics 从带 name 标签的子指标中提取每个请求的统计
func buildRequestMetrics(snap *metrics.Snapshot) map[string]*RequestMetricStats {
	result := make(map[string]*RequestMetricStats)
	get := func(name string) *RequestMetricStats {
		if s, ok := result[name]; ok {
			return s
		}
		s := &RequestMetricStats{Name: name}
		result[name] = s
		return s
	}

	for _, key := range snap.Keys() {
		ms, _ := snap.Get(key)
		reqName, ok := ms.Tags["name"]
		if !ok || len(ms.Tags) != 1 || ms.Empty() {
			continue
		}
		switch ms.Name {
		case metrics.HTTPReqDurationName:
			s := get(reqName)
			s.AvgMs = ms.Values["avg"]
			s.MinMs = ms.Values["min"]
			s.MaxMs = ms.Values["max"]
			s.P50Ms = ms.Values["med"]
			s.P90Ms = ms.Values["p(90)"]
			s.P95Ms = ms.Values["p(95)"]
			s.P99Ms = ms.Values["p(99)"]
		case metrics.HTTPReqFailedName:
			s := get(reqName)
			s.Count = ms.Samples
			s.FailureCount = int64(ms.Values["passes"])
			s.SuccessCount = int64(ms.Values["fails"])
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
