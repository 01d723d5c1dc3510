package executor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// CompileChecks turns declarative check specs into predicates. Every
// invalid spec is reported.
func CompileChecks(specs []types.CheckSpec) ([]Check, error) {
	checks := make([]Check, 0, len(specs))
	var errs []error
	for _, spec := range specs {
		c, err := CompileCheck(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		checks = append(checks, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return checks, nil
}

type predicate func(resp *types.Response) bool

// CompileCheck compiles one spec. All matchers in a spec must hold.
func CompileCheck(spec types.CheckSpec) (Check, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return Check{}, NewConfigError("", "check name is required", nil)
	}
	if err := metrics.ValidateSelectorValue(spec.Name); err != nil {
		return Check{}, NewConfigError(spec.Name, "invalid check name", err)
	}

	var preds []predicate

	if spec.Status != 0 {
		want := spec.Status
		preds = append(preds, func(r *types.Response) bool { return r.Status == want })
	}
	if len(spec.StatusIn) > 0 {
		allowed := make(map[int]bool, len(spec.StatusIn))
		for _, s := range spec.StatusIn {
			allowed[s] = true
		}
		preds = append(preds, func(r *types.Response) bool { return r.Received() && allowed[r.Status] })
	}
	if spec.BodyContains != "" {
		sub := spec.BodyContains
		preds = append(preds, func(r *types.Response) bool { return strings.Contains(r.BodyString(), sub) })
	}
	if spec.BodyMatches != "" {
		re, err := regexp.Compile(spec.BodyMatches)
		if err != nil {
			return Check{}, NewConfigError(spec.Name, "invalid body_matches pattern", err)
		}
		preds = append(preds, func(r *types.Response) bool { return r.Received() && re.Match(r.Body) })
	}

	if spec.Header != "" && spec.JSONPath != "" {
		return Check{}, NewConfigError(spec.Name, "header and json_path cannot be combined", nil)
	}
	if spec.Header != "" {
		preds = append(preds, headerPredicate(spec))
	}
	if spec.JSONPath != "" {
		p, err := jsonPathPredicate(spec)
		if err != nil {
			return Check{}, err
		}
		preds = append(preds, p)
	}
	if spec.Header == "" && spec.JSONPath == "" && (spec.Equals != nil || spec.Contains != "" || spec.Exists) {
		return Check{}, NewConfigError(spec.Name, "equals/contains/exists require header or json_path", nil)
	}

	if spec.MaxDuration > 0 {
		limit := spec.MaxDuration
		preds = append(preds, func(r *types.Response) bool { return r.Received() && r.Duration <= limit })
	}

	if len(preds) == 0 {
		return Check{}, NewConfigError(spec.Name, "check has no matcher", nil)
	}

	return Check{
		Name: spec.Name,
		Predicate: func(r *types.Response) bool {
			if r == nil {
				return false
			}
			for _, p := range preds {
				if !p(r) {
					return false
				}
			}
			return true
		},
	}, nil
}

func headerPredicate(spec types.CheckSpec) predicate {
	name := spec.Header
	switch {
	case spec.Equals != nil:
		want := fmt.Sprint(spec.Equals)
		return func(r *types.Response) bool { return r.Header(name) == want }
	case spec.Contains != "":
		sub := spec.Contains
		return func(r *types.Response) bool { return strings.Contains(r.Header(name), sub) }
	default:
		return func(r *types.Response) bool { return r.Header(name) != "" }
	}
}

func jsonPathPredicate(spec types.CheckSpec) (predicate, error) {
	path, err := jp.ParseString(spec.JSONPath)
	if err != nil {
		return nil, NewConfigError(spec.Name, fmt.Sprintf("invalid JSONPath expression '%s'", spec.JSONPath), err)
	}

	get := func(r *types.Response) (any, bool) {
		data, ok := JSONBody(r)
		if !ok {
			return nil, false
		}
		results := path.Get(data)
		if len(results) == 0 {
			return nil, false
		}
		return results[0], true
	}

	switch {
	case spec.Equals != nil:
		want := fmt.Sprint(spec.Equals)
		return func(r *types.Response) bool {
			v, ok := get(r)
			return ok && fmt.Sprint(v) == want
		}, nil
	case spec.Contains != "":
		sub := spec.Contains
		return func(r *types.Response) bool {
			v, ok := get(r)
			return ok && strings.Contains(fmt.Sprint(v), sub)
		}, nil
	default:
		return func(r *types.Response) bool {
			_, ok := get(r)
			return ok
		}, nil
	}
}

// JSONBody parses the response body as JSON. ok is false for failed
// responses and bodies that are not JSON.
func JSONBody(r *types.Response) (any, bool) {
	if !r.Received() || len(r.Body) == 0 {
		return nil, false
	}
	data, err := oj.Parse(r.Body)
	if err != nil {
		return nil, false
	}
	return data, true
}

// JSONPath returns the first value selected by expr, nil when absent.
func JSONPath(r *types.Response, expr string) any {
	path, err := jp.ParseString(expr)
	if err != nil {
		return nil
	}
	data, ok := JSONBody(r)
	if !ok {
		return nil
	}
	if results := path.Get(data); len(results) > 0 {
		return results[0]
	}
	return nil
}
