package summary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

func TestBuildAndExport(t *testing.T) {
	store := metrics.NewStore()
	b := metrics.RegisterBuiltinMetrics(store)
	sub, err := store.Submetric(b.HTTPReqDuration, map[string]string{"status": "200"})
	require.NoError(t, err)
	store.AddSamples(metrics.Sample{Metric: b.HTTPReqDuration, Time: time.Now(), Value: 42, Tags: map[string]string{"status": "200"}})

	results := []types.ThresholdResult{
		{Metric: "http_req_duration{ status: 200 }", Expression: "p(95)<200", Passed: true, Value: 42},
		{Metric: "requests", Expression: "count<100", Reason: "unknown metric"},
	}
	v := &types.TestVerdict{
		RunID:            "run-9",
		Name:             "demo",
		Thresholds:       results,
		FailedThresholds: results[1:],
		Duration:         1500 * time.Millisecond,
		Snapshot:         store.Snapshot(time.Second),
	}

	r := Build(v, []*controlsurface.TimeSeriesPoint{{ElapsedMs: 1000, RPS: 3}})
	assert.Equal(t, types.ExitThresholdsFailed, r.ExitCode)
	assert.Equal(t, int64(1500), r.DurationMs)
	require.Contains(t, r.Metrics, sub.Key())
	assert.Equal(t, map[string]bool{"p(95)<200": true}, r.Metrics[sub.Key()].Thresholds)
	assert.Nil(t, r.Metrics[metrics.HTTPReqDurationName].Thresholds)
	assert.Equal(t, 42.0, r.Metrics[sub.Key()].Values["p(95)"])

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, Export(path, r))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, sonic.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-9", decoded.RunID)
	assert.False(t, decoded.Passed)
	assert.Len(t, decoded.Thresholds, 2)
	assert.Len(t, decoded.TimeSeries, 1)
}
