// Package transport sends HTTP requests for virtual users. The fasthttp
// implementation shares one client, and therefore one connection pool,
// between all VUs of a run.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/load-engine/pkg/types"
)

const (
	// DefaultTimeout 是请求未指定超时时的默认值
	DefaultTimeout = 30 * time.Second

	defaultMaxConnsPerHost     = 1000
	defaultMaxIdleConnDuration = 90 * time.Second
)

// Transport executes a single request. A non-nil error is always a *Error
// and means no response was received.
type Transport interface {
	Execute(ctx context.Context, req *types.Request) (*types.Response, error)
}

// Config configures the fasthttp transport.
type Config struct {
	Timeout            time.Duration
	MaxConnsPerHost    int
	InsecureSkipVerify bool
	// Dial 替换默认拨号函数，测试中用于内存监听器
	Dial fasthttp.DialFunc
}

// FastHTTP is a Transport backed by fasthttp.Client.
type FastHTTP struct {
	client  *fasthttp.Client
	timeout time.Duration
}

var _ Transport = (*FastHTTP)(nil)

// NewFastHTTP creates a fasthttp transport.
func NewFastHTTP(cfg Config) *FastHTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	return &FastHTTP{
		client: &fasthttp.Client{
			MaxConnsPerHost:        cfg.MaxConnsPerHost,
			MaxIdleConnDuration:    defaultMaxIdleConnDuration,
			TLSConfig:              &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
			DisablePathNormalizing: true,
			Dial:                   cfg.Dial,
			// 连接池满时等待而不是立即失败
			MaxConnWaitTimeout: cfg.Timeout,
		},
		timeout: cfg.Timeout,
	}
}

// Execute sends req and waits for the full response. The deadline is the
// request timeout, falling back to the transport default, and is shortened
// by ctx's deadline when that comes first. Cancellation of ctx is observed
// before dispatch only; an in-flight request runs until its deadline.
func (t *FastHTTP) Execute(ctx context.Context, r *types.Request) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: classify(err), URL: r.URL, Err: err}
	}
	if err := validateURL(r.URL); err != nil {
		return nil, &Error{Kind: KindInvalid, URL: r.URL, Err: err}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = t.timeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	buildRequest(req, r)
	bytesSent := int64(len(req.Header.Header()) + len(req.Body()))

	start := time.Now()
	err := t.client.DoDeadline(req, resp, deadline)
	elapsed := time.Since(start)
	if err != nil {
		kind := classify(err)
		if kind == KindUnknown && !time.Now().Before(deadline) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, URL: r.URL, Err: err}
	}

	out := &types.Response{
		Request:   r,
		Status:    resp.StatusCode(),
		Duration:  elapsed,
		BytesSent: bytesSent,
	}
	fillResponse(out, resp)
	return out, nil
}

// CloseIdleConnections closes idle keep-alive connections.
func (t *FastHTTP) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func buildRequest(req *fasthttp.Request, r *types.Request) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = fasthttp.MethodGet
	}
	req.Header.SetMethod(method)
	req.SetRequestURI(r.URL)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != "" {
		req.SetBodyString(r.Body)
	}
}

// fillResponse 复制响应数据（resp.Body() 返回的是内部缓冲区的引用）
func fillResponse(out *types.Response, resp *fasthttp.Response) {
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	headers := make(map[string]string)
	resp.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, exists := headers[k]; !exists {
			headers[k] = string(value)
		}
	})

	out.Body = body
	out.Headers = headers
	out.BytesReceived = int64(len(resp.Header.Header()) + len(body))
}
