package types

import (
	"strconv"
	"strings"
	"time"
)

// Request describes one HTTP request a VU sends during an iteration.
type Request struct {
	Name     string            `yaml:"name,omitempty" json:"name,omitempty"`
	Method   string            `yaml:"method,omitempty" json:"method"`
	URL      string            `yaml:"url" json:"url"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body     string            `yaml:"body,omitempty" json:"body,omitempty"`
	Timeout  time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Tags     map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Checks   []CheckSpec       `yaml:"checks,omitempty" json:"checks,omitempty"`
	Counters []string          `yaml:"counters,omitempty" json:"counters,omitempty"`
	// Extract 将 JSONPath 结果保存为 setup 数据，仅在 setup 阶段生效
	Extract map[string]string `yaml:"extract,omitempty" json:"extract,omitempty"`
	// Sleep 是请求完成后的停顿
	Sleep time.Duration `yaml:"sleep,omitempty" json:"sleep,omitempty"`
}

// DisplayName returns the request name, falling back to METHOD URL.
func (r *Request) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Method + " " + r.URL
}

// Response is the outcome of one request. A transport failure yields a
// response with Failed set and Status 0 rather than a nil response.
type Response struct {
	Request   *Request          `json:"-"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"-"`
	Duration  time.Duration     `json:"duration"`
	BytesSent int64             `json:"bytes_sent"`
	// BytesReceived 包含响应头和响应体
	BytesReceived int64  `json:"bytes_received"`
	Failed        bool   `json:"failed"`
	Error         string `json:"error,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
}

// FailedResponse builds the sentinel response for a request that never got
// a reply.
func FailedResponse(req *Request, kind string, err error) *Response {
	resp := &Response{
		Request:   req,
		Failed:    true,
		ErrorKind: kind,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Received reports whether a response came back from the target.
func (r *Response) Received() bool {
	return r != nil && r.Status > 0
}

// ExpectedStatus reports whether the status is in the 2xx/3xx range.
func (r *Response) ExpectedStatus() bool {
	return r.Received() && r.Status >= 200 && r.Status < 400
}

// BodyString returns the body as a string; empty for failed responses.
func (r *Response) BodyString() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// Header returns a header value; empty when absent.
func (r *Response) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// StatusText returns the status code as a tag value.
func (r *Response) StatusText() string {
	if r == nil {
		return "0"
	}
	return strconv.Itoa(r.Status)
}
