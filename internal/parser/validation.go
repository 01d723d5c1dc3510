package parser

import (
	"fmt"
	"net/url"
	"strings"

	"yqhp/load-engine/internal/executor"
	"yqhp/load-engine/internal/thresholds"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Validator validates test scripts and collects every problem.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new script validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate returns ValidationErrors when the script cannot run.
func (v *Validator) Validate(script *types.TestScript) error {
	v.errors = make(ValidationErrors, 0)
	if script == nil {
		v.addError("", "script is empty")
		return v.errors
	}

	v.validateExecution(script)
	custom := v.validateMetrics(script.Metrics)
	v.validateThresholds(script.Thresholds, custom)

	if len(script.Requests) == 0 {
		v.addError("requests", "at least one request is required")
	}
	for i := range script.Requests {
		v.validateRequest(&script.Requests[i], fmt.Sprintf("requests[%d]", i), false)
	}
	v.validateHook(script.Setup, "setup", true)
	v.validateHook(script.Teardown, "teardown", false)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateExecution(s *types.TestScript) {
	switch s.Mode {
	case "", types.ModeRampingVUs:
	case types.ModeConstantVUs:
		if s.Duration <= 0 {
			v.addError("duration", "constant-vus requires a positive duration")
		}
		if len(s.Stages) > 0 {
			v.addError("stages", "stages cannot be combined with constant-vus")
		}
	default:
		v.addError("mode", fmt.Sprintf("unknown execution mode %q", s.Mode))
	}

	if s.StartVUs < 0 {
		v.addError("start_vus", "must not be negative")
	}
	if s.VUs < 0 {
		v.addError("vus", "must not be negative")
	}
	if s.Duration < 0 {
		v.addError("duration", "must not be negative")
	}
	if s.MaxVUs < 0 {
		v.addError("max_vus", "must not be negative")
	}
	if s.Pacing < 0 {
		v.addError("pacing", "must not be negative")
	}
	for i, st := range s.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if st.Duration < 0 {
			v.addError(field+".duration", "must not be negative")
		}
		if st.Target < 0 {
			v.addError(field+".target", "must not be negative")
		}
	}
}

// validateMetrics 返回声明的自定义指标类型
func (v *Validator) validateMetrics(decls []types.MetricDeclaration) map[string]metrics.MetricType {
	custom := make(map[string]metrics.MetricType, len(decls))
	for i, d := range decls {
		field := fmt.Sprintf("metrics[%d]", i)
		if strings.TrimSpace(d.Name) == "" {
			v.addError(field+".name", "metric name is required")
			continue
		}
		if _, ok := metrics.BuiltinType(d.Name); ok {
			v.addError(field+".name", fmt.Sprintf("%s is a built-in metric", d.Name))
			continue
		}
		if _, dup := custom[d.Name]; dup {
			v.addError(field+".name", fmt.Sprintf("duplicate metric %s", d.Name))
			continue
		}
		mt, err := metrics.ParseMetricType(d.Type)
		if err != nil {
			v.addError(field+".type", err.Error())
			continue
		}
		switch metrics.ValueType(strings.ToLower(d.Contains)) {
		case "", metrics.Default, metrics.Time, metrics.Data:
		default:
			v.addError(field+".contains", fmt.Sprintf("unknown value type %q", d.Contains))
		}
		custom[d.Name] = mt
	}
	return custom
}

func (v *Validator) validateThresholds(defs []types.ThresholdDefinition, custom map[string]metrics.MetricType) {
	for i, def := range defs {
		field := fmt.Sprintf("thresholds.%s[%d]", def.Metric, i)
		name, _, err := metrics.ParseMetricKey(def.Metric)
		if err != nil {
			v.addError(field, err.Error())
			continue
		}
		expr, err := thresholds.Parse(def.Expression)
		if err != nil {
			v.addError(field, err.Error())
			continue
		}
		if def.DelayAbortEval < 0 {
			v.addError(field+".delay_abort_eval", "must not be negative")
		}

		mt, ok := metrics.BuiltinType(name)
		if !ok {
			mt, ok = custom[name]
		}
		if ok && !expr.SupportedBy(mt) {
			v.addError(field, fmt.Sprintf("aggregation %s is not defined for %s metric %s", expr.AggregationName(), mt, name))
		}
	}
}

func (v *Validator) validateHook(h *types.HookSpec, field string, setup bool) {
	if h == nil {
		return
	}
	if h.Sleep < 0 {
		v.addError(field+".sleep", "must not be negative")
	}
	if h.Timeout < 0 {
		v.addError(field+".timeout", "must not be negative")
	}
	for i := range h.Requests {
		v.validateRequest(&h.Requests[i], fmt.Sprintf("%s.requests[%d]", field, i), setup)
	}
}

func (v *Validator) validateRequest(r *types.Request, field string, allowExtract bool) {
	if r.Name != "" {
		if err := metrics.ValidateSelectorValue(r.Name); err != nil {
			v.addError(field+".name", err.Error())
		}
	}
	if r.URL == "" {
		v.addError(field+".url", "url is required")
	} else if !strings.Contains(r.URL, "{{") {
		if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError(field+".url", fmt.Sprintf("invalid url %q, expected http(s)://host/path", r.URL))
		}
	}
	if r.Method != "" && !validMethods[strings.ToUpper(r.Method)] {
		v.addError(field+".method", fmt.Sprintf("unsupported method %q", r.Method))
	}
	if r.Timeout < 0 {
		v.addError(field+".timeout", "must not be negative")
	}
	if r.Sleep < 0 {
		v.addError(field+".sleep", "must not be negative")
	}
	if len(r.Extract) > 0 && !allowExtract {
		v.addError(field+".extract", "extract is only supported in setup requests")
	}
	for j, c := range r.Checks {
		if _, err := executor.CompileCheck(c); err != nil {
			v.addError(fmt.Sprintf("%s.checks[%d]", field, j), err.Error())
		}
	}
	for j, name := range r.Counters {
		if strings.TrimSpace(name) == "" {
			v.addError(fmt.Sprintf("%s.counters[%d]", field, j), "counter name is required")
		}
	}
}
