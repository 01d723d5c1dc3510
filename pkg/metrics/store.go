package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store 是一次测试运行的指标仓库。由调用方显式创建并传递，
// 注册表由 RWMutex 保护，每个 Sink 自己负责并发安全，
// 因此写入不同指标的 VU 之间不会互相阻塞。
type Store struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	order   []string

	exactTrendLimit int
	start           time.Time
	tap             atomic.Pointer[tap]
}

type tap struct {
	ch chan<- SampleContainer
}

// Option configures a Store.
type Option func(*Store)

// WithExactTrendLimit sets how many raw values a trend keeps before it
// switches to an HDR histogram.
func WithExactTrendLimit(n int) Option {
	return func(s *Store) {
		s.exactTrendLimit = n
	}
}

// NewStore creates an empty metric store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		metrics:         make(map[string]*Metric),
		exactTrendLimit: DefaultExactTrendLimit,
		start:           time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMetric 获取或创建指标；同名但类型不同则返回错误。
func (s *Store) NewMetric(name string, metricType MetricType, contains ...ValueType) (*Metric, error) {
	if name == "" {
		return nil, fmt.Errorf("metric name is empty")
	}
	vt := Default
	if len(contains) > 0 && contains[0] != "" {
		vt = contains[0]
	}

	s.mu.RLock()
	m, ok := s.metrics[name]
	s.mu.RUnlock()
	if ok {
		return checkType(m, metricType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.metrics[name]; ok {
		return checkType(m, metricType)
	}
	m = &Metric{
		Name:     name,
		Type:     metricType,
		Contains: vt,
		Sink:     NewSink(metricType, s.exactTrendLimit),
	}
	s.metrics[name] = m
	s.order = append(s.order, name)
	return m, nil
}

func checkType(m *Metric, want MetricType) (*Metric, error) {
	if m.Type != want {
		return nil, fmt.Errorf("metric %q already registered as %s, not %s", m.Name, m.Type, want)
	}
	return m, nil
}

// MustMetric is NewMetric that panics on a type conflict. Used for
// built-in metrics whose names are fixed.
func (s *Store) MustMetric(name string, metricType MetricType, contains ...ValueType) *Metric {
	m, err := s.NewMetric(name, metricType, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// Counter returns the counter called name, creating it on first use.
func (s *Store) Counter(name string) (*Metric, error) { return s.NewMetric(name, Counter) }

// Rate returns the rate called name, creating it on first use.
func (s *Store) Rate(name string) (*Metric, error) { return s.NewMetric(name, Rate) }

// Trend returns the trend called name, creating it on first use.
func (s *Store) Trend(name string, contains ...ValueType) (*Metric, error) {
	return s.NewMetric(name, Trend, contains...)
}

// Gauge returns the gauge called name, creating it on first use.
func (s *Store) Gauge(name string) (*Metric, error) { return s.NewMetric(name, Gauge) }

// Get 获取已注册的指标或子指标
func (s *Store) Get(key string) *Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[key]
}

// Submetric 获取或创建 parent 在 tags 上的子指标。子指标接收所有
// 标签匹配的父指标样本，拥有独立的聚合状态。
func (s *Store) Submetric(parent *Metric, tags map[string]string) (*Metric, error) {
	if parent == nil {
		return nil, fmt.Errorf("submetric parent is nil")
	}
	if parent.parent != nil {
		return nil, fmt.Errorf("metric %q is already a submetric", parent.Key())
	}
	if len(tags) == 0 {
		return parent, nil
	}
	key := MetricKey(parent.Name, tags)

	s.mu.RLock()
	sub, ok := s.metrics[key]
	s.mu.RUnlock()
	if ok {
		return sub, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.metrics[key]; ok {
		return sub, nil
	}

	selector := make(map[string]string, len(tags))
	for k, v := range tags {
		selector[k] = v
	}
	sub = &Metric{
		Name:     parent.Name,
		Type:     parent.Type,
		Contains: parent.Contains,
		Tags:     selector,
		Sink:     NewSink(parent.Type, s.exactTrendLimit),
		parent:   parent,
	}

	// copy-on-write，写入路径无需加锁
	old := parent.Submetrics()
	next := make([]*Metric, len(old), len(old)+1)
	copy(next, old)
	next = append(next, sub)
	parent.submetrics.Store(&next)

	s.metrics[key] = sub
	s.order = append(s.order, key)
	return sub, nil
}

// AddSamples 立即聚合样本，并在设置了 tap 时转发给输出管道。
func (s *Store) AddSamples(containers ...SampleContainer) {
	for _, c := range containers {
		for _, sample := range c.GetSamples() {
			m := sample.Metric
			if m == nil {
				continue
			}
			m.Sink.Add(sample)
			for _, sub := range m.Submetrics() {
				if sub.matches(sample.Tags) {
					sub.Sink.Add(sample)
				}
			}
		}
		if t := s.tap.Load(); t != nil {
			t.ch <- c
		}
	}
}

// Tap forwards every container added after this call to ch. The caller
// must keep ch drained until Untap returns.
func (s *Store) Tap(ch chan<- SampleContainer) {
	s.tap.Store(&tap{ch: ch})
}

// Untap stops forwarding.
func (s *Store) Untap() {
	s.tap.Store(nil)
}

// StartTime returns when the store was created.
func (s *Store) StartTime() time.Time {
	return s.start
}

// Keys returns metric and submetric keys in registration order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Snapshot 返回所有指标的不可变副本。每个 Sink 单独拷贝，
// 写入方最多被阻塞一次拷贝的时间。
func (s *Store) Snapshot(elapsed time.Duration) *Snapshot {
	s.mu.RLock()
	all := make([]*Metric, 0, len(s.order))
	for _, key := range s.order {
		all = append(all, s.metrics[key])
	}
	s.mu.RUnlock()

	snap := &Snapshot{
		Time:    time.Now(),
		Elapsed: elapsed,
		Metrics: make(map[string]*MetricSnapshot, len(all)),
	}
	seconds := elapsed.Seconds()
	for _, m := range all {
		ms := &MetricSnapshot{
			Name:     m.Name,
			Key:      m.Key(),
			Type:     m.Type,
			Contains: m.Contains,
			Tags:     m.Tags,
		}
		if ts, ok := m.Sink.(*TrendSink); ok {
			ms.trend = ts.Snapshot()
			ms.Samples = ms.trend.Count
			ms.Values = ms.trend.Format()
		} else {
			ms.Samples = m.Sink.SampleCount()
			ms.Values = m.Sink.Format(seconds)
		}
		snap.Metrics[ms.Key] = ms
	}
	return snap
}

// Snapshot is a consistent, read-only view of the store.
type Snapshot struct {
	Time    time.Time                  `json:"time"`
	Elapsed time.Duration              `json:"elapsed"`
	Metrics map[string]*MetricSnapshot `json:"metrics"`
}

// Get returns the snapshot of a metric or submetric key.
func (s *Snapshot) Get(key string) (*MetricSnapshot, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.Metrics[key]
	return m, ok
}

// Keys returns all keys sorted alphabetically.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Metrics))
	for k := range s.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetricSnapshot is the frozen state of one metric.
type MetricSnapshot struct {
	Name     string             `json:"name"`
	Key      string             `json:"key"`
	Type     MetricType         `json:"type"`
	Contains ValueType          `json:"contains,omitempty"`
	Tags     map[string]string  `json:"tags,omitempty"`
	Samples  int64              `json:"samples"`
	Values   map[string]float64 `json:"values"`

	trend *TrendSnapshot
}

// Empty reports whether no sample was ever aggregated.
func (m *MetricSnapshot) Empty() bool {
	return m.Samples == 0
}

// Trend returns the trend snapshot, nil for other types.
func (m *MetricSnapshot) Trend() *TrendSnapshot {
	return m.trend
}

// Percentile returns an arbitrary percentile for trend metrics.
func (m *MetricSnapshot) Percentile(p float64) (float64, bool) {
	if m.trend == nil {
		return 0, false
	}
	return m.trend.Percentile(p)
}
