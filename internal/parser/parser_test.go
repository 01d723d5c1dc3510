package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

const singleRequestScript = `
name: single request
stages:
  - duration: 1m
    target: 20
  - duration: 1m
    target: 15
  - duration: 1m
    target: 0
metrics:
  - name: requests
    type: counter
thresholds:
  requests: count<100
  http_req_failed:
    - rate<0.01
  http_req_duration:
    - "p(95)<200"
    - threshold: "p(99)<500"
      abort_on_fail: true
      delay_abort_eval: 10s
setup:
  sleep: 3s
  requests:
    - name: status
      url: http://localhost:8080/status
      checks:
        - name: status is 200
          status: 200
requests:
  - name: status
    method: GET
    url: http://localhost:8080/status
    counters: [requests]
    checks:
      - name: status is 200
        status: 200
      - name: response body
        body_contains: Up and running
tags:
  env: staging
`

func TestYAMLParser_Parse(t *testing.T) {
	script, err := NewYAMLParser().Parse([]byte(singleRequestScript))
	require.NoError(t, err)

	assert.Equal(t, "single request", script.Name)
	require.Len(t, script.Stages, 3)
	assert.Equal(t, types.Stage{Duration: time.Minute, Target: 20}, script.Stages[0])
	assert.Equal(t, 0, script.Stages[2].Target)
	assert.Equal(t, 3*time.Second, script.Setup.Sleep)
	assert.Equal(t, "staging", script.Tags["env"])
	assert.Equal(t, []string{"requests"}, script.Requests[0].Counters)

	// 保留映射顺序
	require.Len(t, script.Thresholds, 4)
	assert.Equal(t, types.ThresholdDefinition{Metric: "requests", Expression: "count<100"}, script.Thresholds[0])
	assert.Equal(t, "http_req_failed", script.Thresholds[1].Metric)
	assert.Equal(t, "p(95)<200", script.Thresholds[2].Expression)
	assert.Equal(t, types.ThresholdDefinition{
		Metric:         "http_req_duration",
		Expression:     "p(99)<500",
		AbortOnFail:    true,
		DelayAbortEval: 10 * time.Second,
	}, script.Thresholds[3])
}

func TestYAMLParser_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		line int
	}{
		{"unknown field", "name: x\nvuz: 3\nrequests: []\n", 2},
		{"bad duration", "stages:\n  - duration: soon\n    target: 1\n", 2},
		{"thresholds not a mapping", "thresholds: [a]\nrequests: []\n", 1},
		{"threshold item not scalar", "thresholds:\n  checks:\n    - [rate>0]\n", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLParser().Parse([]byte(tt.yaml))
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.line, pe.Line)
		})
	}

	t.Run("empty input", func(t *testing.T) {
		_, err := NewYAMLParser().Parse(nil)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Error(), "script is empty")
	})
}

func TestYAMLParser_CollectsAllValidationErrors(t *testing.T) {
	src := `
mode: per-vu-iterations
start_vus: -1
stages:
  - duration: -1s
    target: 2
metrics:
  - name: http_reqs
    type: counter
  - name: logins
    type: histogram
thresholds:
  http_reqs: p(95)<100
  http_req_duration: avg <> 3
  "bad{": rate<1
requests:
  - url: ftp://example.com
    method: FETCH
    extract:
      token: $.token
    checks:
      - status: 200
      - name: re
        body_matches: "("
`
	_, err := NewYAMLParser().Parse([]byte(src))
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)

	assert.ElementsMatch(t, []string{
		"mode",
		"start_vus",
		"stages[0].duration",
		"metrics[0].name",
		"metrics[1].type",
		"thresholds.http_reqs[0]",
		"thresholds.http_req_duration[1]",
		"thresholds.bad{[2]",
		"requests[0].url",
		"requests[0].method",
		"requests[0].extract",
		"requests[0].checks[0]",
		"requests[0].checks[1]",
	}, verrs.Fields())
	assert.Contains(t, err.Error(), "test script validation failed")
}

func TestValidator_CustomMetricAggregation(t *testing.T) {
	script := &types.TestScript{
		Metrics:    []types.MetricDeclaration{{Name: "logins", Type: "rate"}},
		Thresholds: []types.ThresholdDefinition{{Metric: "logins", Expression: "p(95)<1"}},
		Requests:   []types.Request{{URL: "http://localhost/"}},
	}
	err := NewValidator().Validate(script)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"thresholds.logins[0]"}, verrs.Fields())

	script.Thresholds[0].Expression = "rate>0.5"
	assert.NoError(t, NewValidator().Validate(script))
}

func TestValidator_NamesMustRoundTripAsSelectors(t *testing.T) {
	script := &types.TestScript{
		Requests: []types.Request{{
			Name:   "login, retry",
			URL:    "http://localhost/",
			Checks: []types.CheckSpec{{Name: "a,b", Status: 200}, {Name: "status is 200: ok", Status: 200}},
		}},
	}
	err := NewValidator().Validate(script)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"requests[0].name", "requests[0].checks[0]"}, verrs.Fields())
}

func TestValidator_ConstantMode(t *testing.T) {
	script := &types.TestScript{
		Mode:     types.ModeConstantVUs,
		VUs:      2,
		Requests: []types.Request{{URL: "http://localhost/{{setup.path}}"}},
	}
	err := NewValidator().Validate(script)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"duration"}, verrs.Fields())

	script.Duration = time.Second
	assert.NoError(t, NewValidator().Validate(script))
}

func TestYAMLParser_ParseFileNamesScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte("requests:\n  - url: http://localhost/\n"), 0o644))

	script, err := NewYAMLParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", script.Name)

	_, err = NewYAMLParser().ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExampleScriptParses(t *testing.T) {
	script, err := NewYAMLParser().ParseFile(filepath.Join("..", "..", "examples", "single-request.yaml"))
	require.NoError(t, err)
	assert.Len(t, script.Stages, 3)
	assert.Equal(t, 20, types.MaxTarget(script.StartVUs, script.Stages))
	assert.NotNil(t, script.Setup)
}
