package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/output/sqlite"
	"yqhp/load-engine/pkg/types"
)

func newTarget(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "Up and running")
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func scriptFor(url, path, threshold string) string {
	return fmt.Sprintf(`
name: cli smoke
stages:
  - duration: 150ms
    target: 1
  - duration: 150ms
    target: 1
thresholds:
  %s
requests:
  - name: status
    url: %s%s
    checks:
      - name: status is 200
        status: 200
`, threshold, url, path)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Passes(t *testing.T) {
	srv := newTarget(t)
	script := writeScript(t, scriptFor(srv.URL, "/status", "checks: rate>0.99"))
	export := filepath.Join(t.TempDir(), "summary.json")

	code, stdout, stderr := runCLI(t, "run", "--quiet",
		"--set", "engine.tick_interval=10ms",
		"--summary-export", export,
		script)
	require.Equal(t, types.ExitOK, code, stderr)

	assert.Contains(t, stdout, "http_req_duration")
	assert.Contains(t, stdout, "result: PASSED")

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	var report struct {
		Passed   bool `json:"passed"`
		ExitCode int  `json:"exit_code"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Passed)
	assert.Equal(t, 0, report.ExitCode)
}

func TestRun_ThresholdFailureExits99(t *testing.T) {
	srv := newTarget(t)
	script := writeScript(t, scriptFor(srv.URL, "/broken", "checks: rate>0.99"))

	code, stdout, stderr := runCLI(t, "run", "--quiet", "--no-summary",
		"--set", "engine.tick_interval=10ms", script)
	assert.Equal(t, types.ExitThresholdsFailed, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "1/1")
}

func TestRun_ConstantOverride(t *testing.T) {
	srv := newTarget(t)
	script := writeScript(t, scriptFor(srv.URL, "/status", "http_req_failed: rate<0.01"))
	db := filepath.Join(t.TempDir(), "history.db")

	code, _, stderr := runCLI(t, "run", "--quiet", "--no-summary",
		"--set", "engine.tick_interval=10ms",
		"--vus", "2", "--duration", "200ms",
		"--out", "sqlite="+db,
		"--tag", "env=ci",
		script)
	require.Equal(t, types.ExitOK, code, stderr)

	h, err := sqlite.OpenHistory(db)
	require.NoError(t, err)
	defer h.Close()
	runs, err := h.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Passed)
	assert.Positive(t, runs[0].Requests)

	code, stdout, _ := runCLI(t, "history", db)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, runs[0].ID)
	assert.Contains(t, stdout, "cli smoke")

	code, stdout, _ = runCLI(t, "history", db, "--run", runs[0].ID)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "rate<0.01")
}

func TestRun_ConfigurationFaultsExit1(t *testing.T) {
	srv := newTarget(t)
	valid := writeScript(t, scriptFor(srv.URL, "/status", "checks: rate>0.99"))
	invalid := writeScript(t, "requests:\n  - url: ftp://nowhere\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid script", []string{"run", invalid}, "requests[0].url"},
		{"missing script", []string{"run", filepath.Join(t.TempDir(), "none.yaml")}, "解析测试脚本失败"},
		{"bad stage flag", []string{"run", "--stage", "soon", valid}, "expected duration:target"},
		{"unknown output", []string{"run", "--out", "kafka=x", valid}, "kafka"},
		{"bad config override", []string{"--set", "engine.nope=1", "run", valid}, "engine.nope"},
		{"no args", []string{"run"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, types.ExitGenericError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	script := writeScript(t, `
name: typo
thresholds:
  http_req_duraton: p(95)<200
requests:
  - url: http://localhost:8080/status
`)
	code, stdout, stderr := runCLI(t, "validate", script)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "http_req_duraton")
	assert.Contains(t, stdout, "typo: 脚本有效")

	code, _, stderr = runCLI(t, "validate", writeScript(t, "requests: []\n"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "at least one request is required")
}

func TestExampleScriptValidates(t *testing.T) {
	code, stdout, stderr := runCLI(t, "validate", filepath.Join("..", "examples", "single-request.yaml"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "脚本有效")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, Version)
	assert.Contains(t, stdout, "console")
	assert.Contains(t, stdout, "sqlite")
}

func TestVerdictError(t *testing.T) {
	assert.NoError(t, verdictError(&types.TestVerdict{Passed: true}))

	err := verdictError(&types.TestVerdict{Reason: "setup failed: boom", SetupFailed: true})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, "setup failed: boom", exitErr.Error())
}
