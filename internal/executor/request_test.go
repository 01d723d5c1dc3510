package executor

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"yqhp/load-engine/internal/transport"
	"yqhp/load-engine/internal/transport/transporttest"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

func newExecutor(t *testing.T, tr transport.Transport) (*RequestExecutor, *metrics.Store) {
	t.Helper()
	store := metrics.NewStore()
	return NewRequestExecutor(tr, store, metrics.RegisterBuiltinMetrics(store)), store
}

func TestRequestExecutor_Success(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {
		time.Sleep(5 * time.Millisecond)
		ctx.SetBodyString("Up and running")
	})
	defer stub.Close()

	e, store := newExecutor(t, stub.Transport(transport.Config{}))
	_, err := store.Counter("requests")
	require.NoError(t, err)

	req := &types.Request{Name: "status", URL: transporttest.BaseURL + "/status", Counters: []string{"requests"}}
	resp := e.Do(context.Background(), req, map[string]string{"scenario": "default"})

	assert.Equal(t, 200, resp.Status)
	assert.False(t, resp.Failed)
	assert.GreaterOrEqual(t, resp.Duration, 5*time.Millisecond)

	snap := store.Snapshot(time.Second)
	reqs, _ := snap.Get(metrics.HTTPReqsName)
	assert.Equal(t, 1.0, reqs.Values["count"])
	failed, _ := snap.Get(metrics.HTTPReqFailedName)
	assert.Equal(t, 0.0, failed.Values["rate"])
	assert.Equal(t, int64(1), failed.Samples)
	dur, _ := snap.Get(metrics.HTTPReqDurationName)
	assert.Equal(t, int64(1), dur.Samples)
	assert.GreaterOrEqual(t, dur.Values["min"], 5.0)
	custom, _ := snap.Get("requests")
	assert.Equal(t, 1.0, custom.Values["count"])
	received, _ := snap.Get(metrics.DataReceivedName)
	assert.Positive(t, received.Values["count"])
}

func TestRequestExecutor_UnexpectedStatusCountsAsFailed(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})
	defer stub.Close()

	e, store := newExecutor(t, stub.Transport(transport.Config{}))
	resp := e.Do(context.Background(), &types.Request{URL: transporttest.BaseURL}, nil)

	assert.Equal(t, 503, resp.Status)
	assert.False(t, resp.Failed)

	snap := store.Snapshot(time.Second)
	failed, _ := snap.Get(metrics.HTTPReqFailedName)
	assert.Equal(t, 1.0, failed.Values["rate"])
	dur, _ := snap.Get(metrics.HTTPReqDurationName)
	assert.Equal(t, int64(1), dur.Samples)
}

func TestRequestExecutor_TransportFailure(t *testing.T) {
	tr := transport.NewFastHTTP(transport.Config{
		Dial: func(string) (net.Conn, error) {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		},
	})
	e, store := newExecutor(t, tr)

	var resp *types.Response
	require.NotPanics(t, func() {
		resp = e.Do(context.Background(), &types.Request{URL: transporttest.BaseURL}, nil)
	})

	assert.True(t, resp.Failed)
	assert.Equal(t, 0, resp.Status)
	assert.Equal(t, string(transport.KindConnection), resp.ErrorKind)
	assert.NotEmpty(t, resp.Error)

	snap := store.Snapshot(time.Second)
	reqs, _ := snap.Get(metrics.HTTPReqsName)
	assert.Equal(t, 1.0, reqs.Values["count"])
	failed, _ := snap.Get(metrics.HTTPReqFailedName)
	assert.Equal(t, 1.0, failed.Values["rate"])
	dur, _ := snap.Get(metrics.HTTPReqDurationName)
	assert.True(t, dur.Empty(), "no duration sample without a response")
}

func TestRequestExecutor_TagsAndTap(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {})
	defer stub.Close()

	e, store := newExecutor(t, stub.Transport(transport.Config{}))
	ch := make(chan metrics.SampleContainer, 1)
	store.Tap(ch)
	defer store.Untap()

	req := &types.Request{Name: "home", Method: "get", URL: transporttest.BaseURL + "/", Tags: map[string]string{"group": "web"}}
	e.Do(context.Background(), req, map[string]string{"run": "r1"})

	c := <-ch
	samples := c.GetSamples()
	require.NotEmpty(t, samples)
	tags := samples[0].Tags
	assert.Equal(t, "GET", tags["method"])
	assert.Equal(t, "home", tags["name"])
	assert.Equal(t, "200", tags["status"])
	assert.Equal(t, "true", tags["expected_response"])
	assert.Equal(t, "web", tags["group"])
	assert.Equal(t, "r1", tags["run"])
	assert.NotContains(t, tags, "error_kind")
}

func TestRequestExecutor_CounterTypeConflictIsSkipped(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {})
	defer stub.Close()

	e, store := newExecutor(t, stub.Transport(transport.Config{}))
	_, err := store.Trend("requests")
	require.NoError(t, err)

	resp := e.Do(context.Background(), &types.Request{URL: transporttest.BaseURL, Counters: []string{"requests"}}, nil)
	assert.Equal(t, 200, resp.Status)
}
