package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// MetricType 定义指标类型
type MetricType string

const (
	// Counter 计数器类型，只增不减
	Counter MetricType = "counter"
	// Gauge 仪表盘类型，保留最后一个值
	Gauge MetricType = "gauge"
	// Rate 比率类型，计算非零样本所占比例
	Rate MetricType = "rate"
	// Trend 趋势类型，计算百分位数等统计值
	Trend MetricType = "trend"
)

// ParseMetricType converts a lowercase type name into a MetricType.
func ParseMetricType(s string) (MetricType, error) {
	switch t := MetricType(strings.ToLower(strings.TrimSpace(s))); t {
	case Counter, Gauge, Rate, Trend:
		return t, nil
	default:
		return "", fmt.Errorf("unknown metric type %q", s)
	}
}

// ValueType 定义值的类型
type ValueType string

const (
	// Default 默认值类型
	Default ValueType = "default"
	// Time 时间类型（毫秒）
	Time ValueType = "time"
	// Data 数据量类型（字节）
	Data ValueType = "data"
)

// Metric 定义一个指标。子指标与父指标共享 Name，
// 通过 Tags 选择样本，并拥有独立的 Sink。
type Metric struct {
	Name     string            `json:"name"`
	Type     MetricType        `json:"type"`
	Contains ValueType         `json:"contains,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Sink     Sink              `json:"-"`

	parent     *Metric
	submetrics atomic.Pointer[[]*Metric]
}

// Key returns the registry key: the bare name for a metric, name{k:v,...}
// for a submetric.
func (m *Metric) Key() string {
	if m.parent == nil {
		return m.Name
	}
	return MetricKey(m.Name, m.Tags)
}

// Parent returns the parent metric of a submetric, nil otherwise.
func (m *Metric) Parent() *Metric {
	return m.parent
}

// Submetrics returns the submetrics registered under this metric.
func (m *Metric) Submetrics() []*Metric {
	if subs := m.submetrics.Load(); subs != nil {
		return *subs
	}
	return nil
}

// matches reports whether every selector tag is present in tags.
func (m *Metric) matches(tags map[string]string) bool {
	for k, v := range m.Tags {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Sample 表示单个指标样本
type Sample struct {
	Metric *Metric           `json:"metric"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// GetSamples 使单个样本也满足 SampleContainer
func (s Sample) GetSamples() []Sample {
	return []Sample{s}
}

// SampleContainer 是可以返回多个样本的接口
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples 是 Sample 切片，实现 SampleContainer 接口
type Samples []Sample

// GetSamples 返回样本切片
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSamples 表示一组相关的样本（如同一个请求的多个指标）
type ConnectedSamples struct {
	Samples []Sample
	Tags    map[string]string
	Time    time.Time
}

// GetSamples 返回样本切片
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}

// MetricKey renders a submetric key with tags sorted by name.
func MetricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

// ValidateSelectorValue reports whether v can be used as a tag value in a
// metric key and still be parsed back by ParseMetricKey.
func ValidateSelectorValue(v string) error {
	if strings.ContainsAny(v, ",{}") {
		return fmt.Errorf("%q must not contain ',', '{' or '}'", v)
	}
	if strings.TrimSpace(v) != v {
		return fmt.Errorf("%q must not have leading or trailing spaces", v)
	}
	return nil
}

// ParseMetricKey splits "name{k:v,k2:v2}" into the name and the selector
// tags. A bare name yields nil tags.
func ParseMetricKey(key string) (string, map[string]string, error) {
	key = strings.TrimSpace(key)
	open := strings.IndexByte(key, '{')
	if open < 0 {
		if strings.ContainsRune(key, '}') {
			return "", nil, fmt.Errorf("metric key %q: unbalanced braces", key)
		}
		if key == "" {
			return "", nil, fmt.Errorf("empty metric name")
		}
		return key, nil, nil
	}
	if !strings.HasSuffix(key, "}") {
		return "", nil, fmt.Errorf("metric key %q: missing closing brace", key)
	}

	name := strings.TrimSpace(key[:open])
	if name == "" {
		return "", nil, fmt.Errorf("metric key %q: empty metric name", key)
	}
	body := key[open+1 : len(key)-1]
	if strings.TrimSpace(body) == "" {
		return "", nil, fmt.Errorf("metric key %q: empty tag selector", key)
	}

	tags := make(map[string]string)
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return "", nil, fmt.Errorf("metric key %q: malformed tag %q", key, pair)
		}
		tags[k] = strings.TrimSpace(v)
	}
	return name, tags, nil
}
