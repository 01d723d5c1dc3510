package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultExactTrendLimit 是 TrendSink 精确保存原始值的上限，超过后改用 HDR 直方图。
const DefaultExactTrendLimit = 10000

const (
	// 直方图以微秒精度记录毫秒值，上限 1 小时
	histScale    = 1000.0
	histMaxValue = 3_600_000_000
	histSigFigs  = 3
)

// Sink 定义指标聚合器接口
type Sink interface {
	// Add 添加一个样本值
	Add(sample Sample)
	// Format 返回格式化的统计结果
	Format(duration float64) map[string]float64
	// IsEmpty 检查是否为空
	IsEmpty() bool
	// SampleCount 返回已聚合的样本数
	SampleCount() int64
}

// NewSink 根据指标类型创建对应的 Sink
func NewSink(metricType MetricType, exactTrendLimit int) Sink {
	switch metricType {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	case Trend:
		return NewTrendSink(exactTrendLimit)
	default:
		return &CounterSink{}
	}
}

// CounterSink 计数器聚合器，无锁累加
type CounterSink struct {
	bits atomic.Uint64
	n    atomic.Int64
}

// Add 添加样本
func (c *CounterSink) Add(sample Sample) {
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + sample.Value)
		if c.bits.CompareAndSwap(old, next) {
			break
		}
	}
	c.n.Add(1)
}

// Value 返回累计值
func (c *CounterSink) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Format 返回统计结果
func (c *CounterSink) Format(duration float64) map[string]float64 {
	v := c.Value()
	result := map[string]float64{
		"count": v,
		"rate":  0,
	}
	if duration > 0 {
		result["rate"] = v / duration
	}
	return result
}

// IsEmpty 检查是否为空
func (c *CounterSink) IsEmpty() bool {
	return c.n.Load() == 0
}

// SampleCount 返回样本数
func (c *CounterSink) SampleCount() int64 {
	return c.n.Load()
}

// GaugeSink 仪表盘聚合器
type GaugeSink struct {
	Value  float64
	Min    float64
	Max    float64
	Count  int64
	minSet bool
	mu     sync.Mutex
}

// Add 添加样本
func (g *GaugeSink) Add(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Value = sample.Value
	g.Count++
	if !g.minSet || sample.Value < g.Min {
		g.Min = sample.Value
		g.minSet = true
	}
	if sample.Value > g.Max {
		g.Max = sample.Value
	}
}

// Format 返回统计结果
func (g *GaugeSink) Format(_ float64) map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]float64{
		"value": g.Value,
		"min":   g.Min,
		"max":   g.Max,
	}
}

// IsEmpty 检查是否为空
func (g *GaugeSink) IsEmpty() bool {
	return g.SampleCount() == 0
}

// SampleCount 返回样本数
func (g *GaugeSink) SampleCount() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Count
}

// RateSink 比率聚合器。
// Add 先增加 total 再增加 trues，读取时先读 trues 再读 total，
// 因此任何时刻读到的 trues 都不会超过 total。
type RateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

// Add 添加样本（value != 0 表示 true）
func (r *RateSink) Add(sample Sample) {
	r.total.Add(1)
	if sample.Value != 0 {
		r.trues.Add(1)
	}
}

// Load returns a consistent (trues, total) pair.
func (r *RateSink) Load() (trues, total int64) {
	trues = r.trues.Load()
	total = r.total.Load()
	return trues, total
}

// Format 返回统计结果；没有样本时 rate 为 0
func (r *RateSink) Format(_ float64) map[string]float64 {
	trues, total := r.Load()
	result := map[string]float64{
		"passes": float64(trues),
		"fails":  float64(total - trues),
		"rate":   0,
	}
	if total > 0 {
		result["rate"] = float64(trues) / float64(total)
	}
	return result
}

// IsEmpty 检查是否为空
func (r *RateSink) IsEmpty() bool {
	return r.total.Load() == 0
}

// SampleCount 返回样本数
func (r *RateSink) SampleCount() int64 {
	return r.total.Load()
}

// TrendSink 趋势聚合器。count/min/max/sum 始终精确；
// 前 limit 个值原样保存用于精确插值，之后整体迁移到 HDR 直方图。
type TrendSink struct {
	mu     sync.Mutex
	limit  int
	count  int64
	sum    float64
	min    float64
	max    float64
	values []float64
	sorted bool
	hist   *hdrhistogram.Histogram
}

// NewTrendSink creates a trend sink keeping up to limit exact values.
func NewTrendSink(limit int) *TrendSink {
	if limit <= 0 {
		limit = DefaultExactTrendLimit
	}
	return &TrendSink{limit: limit}
}

// Add 添加样本
func (t *TrendSink) Add(sample Sample) {
	v := sample.Value
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.count++
	t.sum += v

	if t.hist != nil {
		recordHist(t.hist, v)
		return
	}

	t.values = append(t.values, v)
	t.sorted = false
	if len(t.values) > t.limit {
		t.hist = hdrhistogram.New(0, histMaxValue, histSigFigs)
		for _, old := range t.values {
			recordHist(t.hist, old)
		}
		t.values = nil
	}
}

func recordHist(h *hdrhistogram.Histogram, v float64) {
	scaled := int64(math.Round(v * histScale))
	if scaled < 0 {
		scaled = 0
	}
	if scaled > histMaxValue {
		scaled = histMaxValue
	}
	_ = h.RecordValue(scaled)
}

// Snapshot 返回不可变的趋势快照
func (t *TrendSink) Snapshot() *TrendSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &TrendSnapshot{
		Count: t.count,
		Sum:   t.sum,
		Min:   t.min,
		Max:   t.max,
	}
	if t.hist != nil {
		s.hist = hdrhistogram.Import(t.hist.Export())
		return s
	}
	if !t.sorted {
		sort.Float64s(t.values)
		t.sorted = true
	}
	s.sorted = make([]float64, len(t.values))
	copy(s.sorted, t.values)
	return s
}

// Format 返回统计结果
func (t *TrendSink) Format(_ float64) map[string]float64 {
	return t.Snapshot().Format()
}

// IsEmpty 检查是否为空
func (t *TrendSink) IsEmpty() bool {
	return t.SampleCount() == 0
}

// SampleCount 返回样本数
func (t *TrendSink) SampleCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Percentile 计算指定百分位数（公开方法，会加锁）
func (t *TrendSink) Percentile(p float64) float64 {
	v, _ := t.Snapshot().Percentile(p)
	return v
}

// TrendSnapshot is an immutable copy of a trend's state.
type TrendSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64

	sorted []float64
	hist   *hdrhistogram.Histogram
}

// Avg returns the mean, false when empty.
func (s *TrendSnapshot) Avg() (float64, bool) {
	if s.Count == 0 {
		return 0, false
	}
	return s.Sum / float64(s.Count), true
}

// Exact reports whether percentiles are computed from raw values.
func (s *TrendSnapshot) Exact() bool {
	return s.hist == nil
}

// Percentile returns the p-th percentile (0..100), false when empty.
func (s *TrendSnapshot) Percentile(p float64) (float64, bool) {
	if s.Count == 0 {
		return 0, false
	}
	if p <= 0 {
		return s.Min, true
	}
	if p >= 100 {
		return s.Max, true
	}

	if s.hist != nil {
		v := float64(s.hist.ValueAtQuantile(p)) / histScale
		return math.Min(math.Max(v, s.Min), s.Max), true
	}

	// 线性插值
	rank := (p / 100) * float64(len(s.sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return s.sorted[lower], true
	}
	weight := rank - float64(lower)
	return s.sorted[lower]*(1-weight) + s.sorted[upper]*weight, true
}

// Format returns the summary statistics used by outputs.
func (s *TrendSnapshot) Format() map[string]float64 {
	result := map[string]float64{
		"count": float64(s.Count),
		"sum":   s.Sum,
		"min":   s.Min,
		"max":   s.Max,
	}
	if s.Count > 0 {
		result["avg"], _ = s.Avg()
		result["med"], _ = s.Percentile(50)
		result["p(90)"], _ = s.Percentile(90)
		result["p(95)"], _ = s.Percentile(95)
		result["p(99)"], _ = s.Percentile(99)
	}
	return result
}
