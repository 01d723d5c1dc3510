package hook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"yqhp/load-engine/internal/executor"
	"yqhp/load-engine/internal/transport"
	"yqhp/load-engine/internal/transport/transporttest"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

func newHookExecutor(t *testing.T, handler fasthttp.RequestHandler) (*HookExecutor, *metrics.Store) {
	t.Helper()
	stub := transporttest.NewStub(handler)
	t.Cleanup(stub.Close)

	store := metrics.NewStore()
	builtin := metrics.RegisterBuiltinMetrics(store)
	requests := executor.NewRequestExecutor(stub.Transport(transport.Config{}), store, builtin)
	return NewHookExecutor(requests, executor.NewCheckRunner(store, builtin)), store
}

func statusHandler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/status":
		ctx.SetBodyString("Up and running")
	case "/login":
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"token":"abc123","user":{"id":7}}`)
	case "/echo":
		ctx.SetBodyString(string(ctx.Request.Header.Peek("Authorization")))
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func TestHookError(t *testing.T) {
	t.Run("error message with request", func(t *testing.T) {
		err := NewHookError(HookTypeSetup, "login", "request failed", errors.New("cause"))
		assert.Equal(t, "[setup hook, request login] request failed: cause", err.Error())
	})

	t.Run("error message without request", func(t *testing.T) {
		err := NewHookError(HookTypeTeardown, "", "hook function failed", nil)
		assert.Equal(t, "[teardown hook] hook function failed", err.Error())
	})

	t.Run("unwrap returns cause", func(t *testing.T) {
		cause := errors.New("original error")
		err := NewHookError(HookTypeSetup, "", "wrapped", cause)
		assert.ErrorIs(t, err, cause)
	})
}

func TestHookExecutor_EmptyHook(t *testing.T) {
	h, _ := newHookExecutor(t, statusHandler)
	data := Data{"a": 1}

	for _, hook := range []*Hook{nil, {}, {Spec: &types.HookSpec{}}} {
		result, err := h.ExecuteHook(context.Background(), hook, HookTypeSetup, data)
		require.NoError(t, err)
		assert.True(t, result.Passed)
		assert.Equal(t, data, result.Data)
	}
}

func TestHookExecutor_DeclarativeSetup(t *testing.T) {
	h, store := newHookExecutor(t, statusHandler)

	spec := &types.HookSpec{
		Sleep: 20 * time.Millisecond,
		Requests: []types.Request{
			{
				Name: "status",
				URL:  transporttest.BaseURL + "/status",
				Checks: []types.CheckSpec{
					{Name: "status is 200", Status: 200},
					{Name: "response body", BodyContains: "Up and running"},
				},
			},
			{
				Name:    "login",
				URL:     transporttest.BaseURL + "/login",
				Extract: map[string]string{"token": "$.token", "user_id": "$.user.id"},
			},
		},
	}

	start := time.Now()
	result, err := h.ExecuteHook(context.Background(), &Hook{Spec: spec}, HookTypeSetup, Data{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, result.Passed)
	assert.Equal(t, "abc123", result.Data["token"])
	assert.EqualValues(t, 7, result.Data["user_id"])

	snap := store.Snapshot(time.Second)
	reqs, _ := snap.Get(metrics.HTTPReqsName)
	assert.Equal(t, 2.0, reqs.Values["count"])
	checks, _ := snap.Get(metrics.ChecksName)
	assert.Equal(t, 1.0, checks.Values["rate"])
}

func TestHookExecutor_DeclarativeFailures(t *testing.T) {
	tests := []struct {
		name    string
		request types.Request
		message string
	}{
		{
			name:    "failed check",
			request: types.Request{Name: "missing", URL: transporttest.BaseURL + "/missing", Checks: []types.CheckSpec{{Name: "ok", Status: 200}}},
			message: "checks failed",
		},
		{
			name:    "invalid check",
			request: types.Request{Name: "bad", URL: transporttest.BaseURL + "/status", Checks: []types.CheckSpec{{Name: "re", BodyMatches: "("}}},
			message: "invalid checks",
		},
		{
			name:    "extract matched nothing",
			request: types.Request{Name: "login", URL: transporttest.BaseURL + "/login", Extract: map[string]string{"x": "$.nope"}},
			message: "matched nothing",
		},
		{
			name:    "transport failure",
			request: types.Request{Name: "broken", URL: "ftp://host/x"},
			message: "request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHookExecutor(t, statusHandler)
			spec := &types.HookSpec{Requests: []types.Request{tt.request}}

			result, err := h.ExecuteHook(context.Background(), &Hook{Spec: spec}, HookTypeSetup, nil)
			require.Error(t, err)
			assert.False(t, result.Passed)

			var hookErr *HookError
			require.ErrorAs(t, err, &hookErr)
			assert.Equal(t, HookTypeSetup, hookErr.HookType)
			assert.Equal(t, tt.request.Name, hookErr.Request)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestHookExecutor_TimeoutInterruptsSleep(t *testing.T) {
	h, _ := newHookExecutor(t, statusHandler)
	spec := &types.HookSpec{Sleep: time.Hour, Timeout: 20 * time.Millisecond}

	_, err := h.ExecuteHook(context.Background(), &Hook{Spec: spec}, HookTypeSetup, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHookExecutor_Func(t *testing.T) {
	h := NewHookExecutor(nil, nil)

	t.Run("returns data", func(t *testing.T) {
		fn := func(ctx context.Context, data Data) (Data, error) {
			return Data{"token": "t"}, nil
		}
		result, err := h.ExecuteHook(context.Background(), &Hook{Func: fn}, HookTypeSetup, Data{})
		require.NoError(t, err)
		assert.Equal(t, Data{"token": "t"}, result.Data)
	})

	t.Run("nil data keeps input", func(t *testing.T) {
		fn := func(ctx context.Context, data Data) (Data, error) { return nil, nil }
		result, err := h.ExecuteHook(context.Background(), &Hook{Func: fn}, HookTypeTeardown, Data{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, Data{"a": 1}, result.Data)
	})

	t.Run("error", func(t *testing.T) {
		cause := errors.New("db unavailable")
		fn := func(ctx context.Context, data Data) (Data, error) { return nil, cause }
		_, err := h.ExecuteHook(context.Background(), &Hook{Func: fn}, HookTypeSetup, nil)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("panic", func(t *testing.T) {
		fn := func(ctx context.Context, data Data) (Data, error) { panic("boom") }
		result, err := h.ExecuteHook(context.Background(), &Hook{Func: fn}, HookTypeSetup, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.False(t, result.Passed)
	})
}
