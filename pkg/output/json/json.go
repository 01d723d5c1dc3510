// Package json streams every metric sample as newline-delimited JSON.
package json

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
)

func init() {
	output.Register("json", New)
}

const flushInterval = 200 * time.Millisecond

// Envelope 是每行写出的 JSON 对象，Type 为 Metric 或 Point
type Envelope struct {
	Type   string `json:"type"`
	Metric string `json:"metric"`
	Data   any    `json:"data"`
}

// MetricData 在指标首次出现时写出一次
type MetricData struct {
	Name     string             `json:"name"`
	Type     metrics.MetricType `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
}

// PointData 是单个样本
type PointData struct {
	Time  time.Time         `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Output JSON 文件输出
type Output struct {
	output.SampleBuffer

	params  output.Params
	log     *zap.SugaredLogger
	closer  io.Closer
	gz      *gzip.Writer
	writer  *bufio.Writer
	encoder sonic.Encoder
	seen    map[string]struct{}
	flusher *output.PeriodicFlusher
	mu      sync.Mutex
}

// New 创建 JSON 输出。参数为文件名，"-" 表示标准输出，
// 以 .gz 结尾时写入 gzip 压缩文件。
func New(params output.Params) (output.Output, error) {
	log := params.Logger
	if log == nil {
		log = logger.Named("json")
	}
	return &Output{
		params: params,
		log:    log,
		seen:   make(map[string]struct{}),
	}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.filename())
}

func (o *Output) filename() string {
	if o.params.ConfigArgument == "" {
		return fmt.Sprintf("samples_%s.ndjson", time.Now().Format("20060102_150405"))
	}
	return o.params.ConfigArgument
}

// Start 打开文件并启动周期刷新
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var w io.Writer
	name := o.filename()
	if name == "-" {
		w = o.params.Stdout
		if w == nil {
			w = os.Stdout
		}
	} else {
		file, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("create json output file: %w", err)
		}
		o.closer = file
		w = file
		if strings.HasSuffix(name, ".gz") {
			o.gz = gzip.NewWriter(file)
			w = o.gz
		}
	}

	o.writer = bufio.NewWriter(w)
	o.encoder = sonic.ConfigDefault.NewEncoder(o.writer)

	pf, err := output.NewPeriodicFlusher(flushInterval, o.flushSamples)
	if err != nil {
		return err
	}
	o.flusher = pf
	return nil
}

// Stop 写出剩余样本并关闭文件
func (o *Output) Stop() error {
	if o.flusher != nil {
		o.flusher.Stop()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writer == nil {
		return nil
	}
	if err := o.writer.Flush(); err != nil {
		return fmt.Errorf("flush json output: %w", err)
	}
	if o.gz != nil {
		if err := o.gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(output.RunStatus) {}

func (o *Output) flushSamples() {
	containers := o.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			m := sample.Metric
			if m == nil {
				continue
			}
			if _, ok := o.seen[m.Name]; !ok {
				o.seen[m.Name] = struct{}{}
				o.encode(Envelope{
					Type:   "Metric",
					Metric: m.Name,
					Data:   MetricData{Name: m.Name, Type: m.Type, Contains: m.Contains},
				})
			}
			o.encode(Envelope{
				Type:   "Point",
				Metric: m.Name,
				Data:   PointData{Time: sample.Time, Value: sample.Value, Tags: o.mergeTags(sample.Tags)},
			})
		}
	}
	if err := o.writer.Flush(); err != nil {
		o.log.Errorw("flush json output failed", "error", err)
	}
}

func (o *Output) encode(e Envelope) {
	if err := o.encoder.Encode(e); err != nil {
		o.log.Errorw("write json sample failed", "metric", e.Metric, "error", err)
	}
}

func (o *Output) mergeTags(tags map[string]string) map[string]string {
	if len(o.params.Tags) == 0 {
		return tags
	}
	merged := make(map[string]string, len(tags)+len(o.params.Tags))
	for k, v := range o.params.Tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return merged
}
