package transport_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"yqhp/load-engine/internal/transport"
	"yqhp/load-engine/internal/transport/transporttest"
	"yqhp/load-engine/pkg/types"
)

func TestFastHTTP_Execute(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {
		assert.Equal(t, "POST", string(ctx.Method()))
		assert.Equal(t, "/echo", string(ctx.Path()))
		assert.Equal(t, "yes", string(ctx.Request.Header.Peek("X-Test")))
		ctx.Response.Header.Set("Content-Type", "application/json")
		ctx.SetStatusCode(fasthttp.StatusCreated)
		ctx.SetBody(ctx.PostBody())
	})
	defer stub.Close()

	tr := stub.Transport(transport.Config{})
	resp, err := tr.Execute(context.Background(), &types.Request{
		Method:  "post",
		URL:     transporttest.BaseURL + "/echo",
		Headers: map[string]string{"X-Test": "yes"},
		Body:    `{"ok":true}`,
	})
	require.NoError(t, err)

	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, `{"ok":true}`, resp.BodyString())
	assert.Equal(t, "application/json", resp.Header("content-type"))
	assert.Positive(t, resp.BytesSent)
	assert.Greater(t, resp.BytesReceived, int64(len(resp.Body)))
	assert.False(t, resp.Failed)
}

func TestFastHTTP_Timeout(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {
		time.Sleep(300 * time.Millisecond)
	})
	defer stub.Close()

	tr := stub.Transport(transport.Config{})
	start := time.Now()
	_, err := tr.Execute(context.Background(), &types.Request{
		URL:     transporttest.BaseURL + "/slow",
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, transport.KindTimeout, transport.KindOf(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestFastHTTP_ContextDeadlineShortensTimeout(t *testing.T) {
	stub := transporttest.NewStub(func(ctx *fasthttp.RequestCtx) {
		time.Sleep(300 * time.Millisecond)
	})
	defer stub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := stub.Transport(transport.Config{}).Execute(ctx, &types.Request{URL: transporttest.BaseURL})
	assert.Equal(t, transport.KindTimeout, transport.KindOf(err))
}

func TestFastHTTP_CancelledBeforeDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := transport.NewFastHTTP(transport.Config{})
	_, err := tr.Execute(ctx, &types.Request{URL: "http://example.invalid"})
	assert.Equal(t, transport.KindCancelled, transport.KindOf(err))
}

func TestFastHTTP_InvalidURL(t *testing.T) {
	tr := transport.NewFastHTTP(transport.Config{})
	for _, u := range []string{"", "ftp://host/x", "http://", "::bad"} {
		_, err := tr.Execute(context.Background(), &types.Request{URL: u})
		assert.Equal(t, transport.KindInvalid, transport.KindOf(err), u)
	}
}

func TestFastHTTP_DialErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want transport.ErrorKind
	}{
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, transport.KindConnection},
		{"dns", &net.DNSError{Err: "no such host", Name: "stub.local", IsNotFound: true}, transport.KindDNS},
		{"tls", tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}, transport.KindTLS},
		{"dial timeout", fasthttp.ErrDialTimeout, transport.KindTimeout},
		{"other", errors.New("something odd"), transport.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := transport.NewFastHTTP(transport.Config{
				Dial: func(string) (net.Conn, error) { return nil, tt.err },
			})
			_, err := tr.Execute(context.Background(), &types.Request{URL: transporttest.BaseURL})
			require.Error(t, err)

			var te *transport.Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.want, te.Kind)
			assert.Contains(t, te.Error(), transporttest.BaseURL)
		})
	}
}
