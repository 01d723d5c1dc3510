package rest

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/metrics"
)

const namespace = "load_engine"

// trend 导出的分位数
var trendQuantiles = map[float64]string{
	0.5:  "med",
	0.9:  "p(90)",
	0.95: "p(95)",
	0.99: "p(99)",
}

// Collector exposes store snapshots as Prometheus metrics. Every store key
// becomes one series; submetrics carry their selector in the "submetric"
// label so that each family keeps a single label set.
type Collector struct {
	cs *controlsurface.ControlSurface

	breached *prometheus.Desc
}

// NewCollector creates a collector reading from cs on every scrape.
func NewCollector(cs *controlsurface.ControlSurface) *Collector {
	return &Collector{
		cs: cs,
		breached: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "thresholds_breached"),
			"Number of thresholds currently failing.",
			nil, nil,
		),
	}
}

// Describe sends nothing: store metrics are declared at runtime, which
// makes this an unchecked collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.cs.MetricsEngine != nil {
		ch <- prometheus.MustNewConstMetric(c.breached, prometheus.GaugeValue,
			float64(c.cs.MetricsEngine.GetBreachedThresholdsCount()))
	}

	snap := c.cs.Snapshot()
	if snap == nil {
		return
	}
	descs := make(map[string]*prometheus.Desc)
	for _, key := range snap.Keys() {
		m := snap.Metrics[key]
		submetric := ""
		if key != m.Name {
			submetric = strings.TrimSuffix(strings.TrimPrefix(key, m.Name+"{"), "}")
		}
		c.collectMetric(ch, descs, m, submetric)
	}
}

func (c *Collector) collectMetric(ch chan<- prometheus.Metric, descs map[string]*prometheus.Desc, m *metrics.MetricSnapshot, submetric string) {
	name := metricName(m)
	desc, ok := descs[name]
	if !ok {
		desc = prometheus.NewDesc(name, string(m.Type)+" metric "+m.Name, []string{"submetric"}, nil)
		descs[name] = desc
	}

	var (
		metric prometheus.Metric
		err    error
	)
	switch m.Type {
	case metrics.Counter:
		metric, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, m.Values["count"], submetric)
	case metrics.Gauge:
		metric, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, m.Values["value"], submetric)
	case metrics.Rate:
		metric, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, m.Values["rate"], submetric)
	case metrics.Trend:
		quantiles := make(map[float64]float64, len(trendQuantiles))
		if !m.Empty() {
			for q, stat := range trendQuantiles {
				quantiles[q] = m.Values[stat]
			}
		}
		metric, err = prometheus.NewConstSummary(desc, uint64(m.Samples), m.Values["sum"], quantiles, submetric)
	default:
		return
	}
	if err != nil {
		metric = prometheus.NewInvalidMetric(desc, err)
	}
	ch <- metric
}

// metricName maps a k6-style metric name to a valid Prometheus name.
// Counters get the conventional _total suffix.
func metricName(m *metrics.MetricSnapshot) string {
	name := prometheus.BuildFQName(namespace, "", sanitize(m.Name))
	if m.Type == metrics.Counter {
		name += "_total"
	}
	return name
}

func sanitize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
