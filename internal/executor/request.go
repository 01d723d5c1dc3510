// Package executor runs requests for virtual users, times them, evaluates
// checks and writes the resulting samples to the metric store.
package executor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/internal/transport"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// RequestExecutor sends requests through a Transport and records metrics.
type RequestExecutor struct {
	transport transport.Transport
	store     *metrics.Store
	builtin   *metrics.BuiltinMetrics
	log       *zap.SugaredLogger
}

// NewRequestExecutor creates a RequestExecutor.
func NewRequestExecutor(tr transport.Transport, store *metrics.Store, builtin *metrics.BuiltinMetrics) *RequestExecutor {
	return &RequestExecutor{
		transport: tr,
		store:     store,
		builtin:   builtin,
		log:       logger.Named("executor"),
	}
}

// Do sends req and always returns a response. A transport failure yields
// a failed response with status 0; nothing is propagated to the caller.
func (e *RequestExecutor) Do(ctx context.Context, req *types.Request, tags map[string]string) *types.Response {
	start := time.Now()
	resp, err := e.transport.Execute(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		kind := string(transport.KindOf(err))
		e.log.Debugw("request failed", "request", req.DisplayName(), "kind", kind, "error", err)
		resp = types.FailedResponse(req, kind, err)
	}
	if resp == nil {
		resp = types.FailedResponse(req, string(transport.KindUnknown), nil)
	}
	resp.Request = req
	resp.Duration = elapsed

	e.record(req, resp, tags, start.Add(elapsed))
	return resp
}

// RequestTags builds the tag set of a request's samples.
func RequestTags(req *types.Request, resp *types.Response, base map[string]string) map[string]string {
	tags := make(map[string]string, len(base)+len(req.Tags)+6)
	for k, v := range base {
		tags[k] = v
	}
	for k, v := range req.Tags {
		tags[k] = v
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	tags["method"] = method
	tags["url"] = req.URL
	tags["name"] = req.DisplayName()
	tags["status"] = resp.StatusText()
	tags["expected_response"] = strconv.FormatBool(resp.ExpectedStatus())
	if resp.ErrorKind != "" {
		tags["error_kind"] = resp.ErrorKind
	}
	return tags
}

func (e *RequestExecutor) record(req *types.Request, resp *types.Response, base map[string]string, now time.Time) {
	tags := RequestTags(req, resp, base)

	var failed float64
	if resp.Failed || !resp.ExpectedStatus() {
		failed = 1
	}

	samples := make([]metrics.Sample, 0, 5+len(req.Counters))
	samples = append(samples,
		metrics.Sample{Metric: e.builtin.HTTPReqs, Time: now, Value: 1, Tags: tags},
		metrics.Sample{Metric: e.builtin.HTTPReqFailed, Time: now, Value: failed, Tags: tags},
	)
	if resp.Received() {
		samples = append(samples, metrics.Sample{
			Metric: e.builtin.HTTPReqDuration,
			Time:   now,
			Value:  float64(resp.Duration) / float64(time.Millisecond),
			Tags:   tags,
		})
	}
	if resp.BytesSent > 0 {
		samples = append(samples, metrics.Sample{Metric: e.builtin.DataSent, Time: now, Value: float64(resp.BytesSent), Tags: tags})
	}
	if resp.BytesReceived > 0 {
		samples = append(samples, metrics.Sample{Metric: e.builtin.DataReceived, Time: now, Value: float64(resp.BytesReceived), Tags: tags})
	}

	for _, name := range req.Counters {
		m, err := e.store.Counter(name)
		if err != nil {
			e.log.Debugw("custom counter unavailable", "counter", name, "error", err)
			continue
		}
		samples = append(samples, metrics.Sample{Metric: m, Time: now, Value: 1, Tags: tags})
	}

	e.store.AddSamples(metrics.ConnectedSamples{Samples: samples, Tags: tags, Time: now})
}
