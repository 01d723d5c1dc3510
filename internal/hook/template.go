package hook

import (
	"fmt"
	"regexp"
	"strings"

	"yqhp/load-engine/pkg/types"
)

// VariableResolver 替换 {{setup.name}} 形式的 setup 数据引用。
// 线程安全，可在多个 VU 之间共享。
type VariableResolver struct {
	pattern *regexp.Regexp
}

// NewVariableResolver 创建新的变量解析器
func NewVariableResolver() *VariableResolver {
	// 支持 {{setup.token}} 和 {{ setup.user.id }}
	return &VariableResolver{
		pattern: regexp.MustCompile(`\{\{\s*setup\.([A-Za-z0-9_.\-]+)\s*\}\}`),
	}
}

// ResolveString 解析字符串中的所有引用，未找到的引用保持原样
func (r *VariableResolver) ResolveString(s string, data Data) string {
	if s == "" || len(data) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return r.pattern.ReplaceAllStringFunc(s, func(match string) string {
		path := r.pattern.FindStringSubmatch(match)[1]
		value := lookup(data, path)
		if value == nil {
			return match
		}
		return fmt.Sprintf("%v", value)
	})
}

// ResolveMap 解析 map 中所有字符串值
func (r *VariableResolver) ResolveMap(m map[string]string, data Data) map[string]string {
	if len(m) == 0 {
		return m
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = r.ResolveString(v, data)
	}
	return result
}

// ResolveRequest returns a copy of req with URL, headers and body resolved.
func (r *VariableResolver) ResolveRequest(req types.Request, data Data) types.Request {
	if len(data) == 0 {
		return req
	}
	req.URL = r.ResolveString(req.URL, data)
	req.Body = r.ResolveString(req.Body, data)
	req.Headers = r.ResolveMap(req.Headers, data)
	return req
}

// ResolveRequests resolves every request.
func (r *VariableResolver) ResolveRequests(reqs []types.Request, data Data) []types.Request {
	out := make([]types.Request, len(reqs))
	for i := range reqs {
		out[i] = r.ResolveRequest(reqs[i], data)
	}
	return out
}

// lookup 支持 a.b.c 形式的嵌套访问。先尝试完整的键，
// 这样 extract 中带点号的名称也能被引用。
func lookup(data Data, path string) any {
	if v, ok := data[path]; ok {
		return v
	}
	parts := strings.Split(path, ".")
	current, ok := data[parts[0]]
	if !ok {
		return nil
	}
	for _, part := range parts[1:] {
		switch m := current.(type) {
		case map[string]any:
			current = m[part]
		case Data:
			current = m[part]
		default:
			return nil
		}
		if current == nil {
			return nil
		}
	}
	return current
}
