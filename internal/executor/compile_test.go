package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func TestCompileCheck(t *testing.T) {
	resp := &types.Response{
		Status:   200,
		Headers:  map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Body:     []byte(`{"status":"Up and running","id":42,"tags":["a","b"],"ready":true}`),
		Duration: 80 * time.Millisecond,
	}

	tests := []struct {
		name string
		spec types.CheckSpec
		want bool
	}{
		{"status", types.CheckSpec{Status: 200}, true},
		{"status mismatch", types.CheckSpec{Status: 201}, false},
		{"status in", types.CheckSpec{StatusIn: []int{200, 204}}, true},
		{"body contains", types.CheckSpec{BodyContains: "Up and running"}, true},
		{"body matches", types.CheckSpec{BodyMatches: `"id":\d+`}, true},
		{"header exists", types.CheckSpec{Header: "content-type"}, true},
		{"header contains", types.CheckSpec{Header: "Content-Type", Contains: "json"}, true},
		{"header equals", types.CheckSpec{Header: "Content-Type", Equals: "text/plain"}, false},
		{"missing header", types.CheckSpec{Header: "X-Missing", Exists: true}, false},
		{"json equals string", types.CheckSpec{JSONPath: "$.status", Equals: "Up and running"}, true},
		{"json equals number", types.CheckSpec{JSONPath: "$.id", Equals: 42}, true},
		{"json equals bool", types.CheckSpec{JSONPath: "$.ready", Equals: true}, true},
		{"json contains", types.CheckSpec{JSONPath: "$.tags[1]", Contains: "b"}, true},
		{"json exists", types.CheckSpec{JSONPath: "$.id", Exists: true}, true},
		{"json absent", types.CheckSpec{JSONPath: "$.nope", Exists: true}, false},
		{"max duration", types.CheckSpec{MaxDuration: 100 * time.Millisecond}, true},
		{"max duration exceeded", types.CheckSpec{MaxDuration: 50 * time.Millisecond}, false},
		{"combined", types.CheckSpec{Status: 200, BodyContains: "running"}, true},
		{"combined one fails", types.CheckSpec{Status: 200, BodyContains: "stopped"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.spec.Name = tt.name
			c, err := CompileCheck(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Predicate(resp))
		})
	}
}

func TestCompileCheck_NonJSONBody(t *testing.T) {
	c, err := CompileCheck(types.CheckSpec{Name: "id", JSONPath: "$.id", Exists: true})
	require.NoError(t, err)
	assert.False(t, c.Predicate(&types.Response{Status: 200, Body: []byte("<html>")}))
	assert.False(t, c.Predicate(nil))
}

func TestCompileChecks_Errors(t *testing.T) {
	_, err := CompileChecks([]types.CheckSpec{
		{Name: "ok", Status: 200},
		{Status: 200},
		{Name: "bad regexp", BodyMatches: "("},
		{Name: "bad path", JSONPath: "$[", Exists: true},
		{Name: "empty"},
		{Name: "dangling equals", Equals: 1},
		{Name: "both", Header: "X", JSONPath: "$.x"},
		{Name: "a,b", Status: 200},
		{Name: " padded", Status: 200},
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "check name is required")
	assert.Contains(t, msg, "bad regexp")
	assert.Contains(t, msg, "bad path")
	assert.Contains(t, msg, "no matcher")
	assert.Contains(t, msg, "require header or json_path")
	assert.Contains(t, msg, "cannot be combined")
	assert.Contains(t, msg, "invalid check name")

	var execErr *ExecutorError
	assert.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrCodeConfig, execErr.Code)
}

func TestJSONPath(t *testing.T) {
	resp := &types.Response{Status: 200, Body: []byte(`{"token":"abc"}`)}
	assert.Equal(t, "abc", JSONPath(resp, "$.token"))
	assert.Nil(t, JSONPath(resp, "$.missing"))
	assert.Nil(t, JSONPath(&types.Response{}, "$.token"))
}
