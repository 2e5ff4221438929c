package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
name: cli smoke
settings:
  baseUrl: %s
  timeout: 2s
vus: 2
duration: 200ms
options: {tickInterval: 10ms, evalInterval: 50ms, gracefulStop: 2s}
thresholds:
  http_req_failed: ["rate<0.01"]
scenario:
  thinkTime: {duration: 10ms}
  requests:
    - name: health
      url: /health
      checks:
        - {type: status, value: "200"}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	code = execute(root, args, &errOut)
	return code, out.String(), errOut.String()
}

func healthServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
}

func TestRun_PassingTestWritesReportsAndHistory(t *testing.T) {
	srv := healthServer(http.StatusOK)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(testYAML, srv.URL))
	summary := filepath.Join(dir, "summary.json")
	html := filepath.Join(dir, "reports", "report.html")
	db := filepath.Join(dir, "history.db")

	code, stdout, stderr := run(t, "run", "-c", cfgPath, "--quiet", "--out", summary, "--html", html, "--history", db)
	require.Equal(t, ExitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "cli smoke - PASSED")
	assert.Contains(t, stdout, "Report: "+summary)

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var decoded struct {
		RunID  string `json:"runId"`
		Passed bool   `json:"passed"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Passed)
	assert.NotEmpty(t, decoded.RunID)

	_, err = os.Stat(html)
	assert.NoError(t, err, "HTML report should be written into a created directory")

	code, stdout, _ = run(t, "history", "--db", db)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, decoded.RunID)
	assert.Contains(t, stdout, "passed")

	code, stdout, _ = run(t, "history", "--db", db, decoded.RunID)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, `"name": "cli smoke"`)
}

func TestRun_FailingThresholdExitCode(t *testing.T) {
	srv := healthServer(http.StatusInternalServerError)
	defer srv.Close()

	cfgPath := writeConfig(t, fmt.Sprintf(testYAML, srv.URL))

	code, stdout, stderr := run(t, "run", "-c", cfgPath, "--quiet", "--no-history")
	assert.Equal(t, ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "cli smoke - FAILED")
	assert.Contains(t, stdout, "✗ http_req_failed rate<0.01")
	assert.NotContains(t, stderr, "Error:", "a failed verdict is not reported as an error")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "vus: 2\nduration: 1s\n")

	code, _, stderr := run(t, "run", "-c", cfgPath, "--quiet", "--no-history")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "scenario")
}

func TestRun_RequiresConfig(t *testing.T) {
	code, _, stderr := run(t, "run")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "config")
}

func TestValidate(t *testing.T) {
	valid := writeConfig(t, fmt.Sprintf(testYAML, "http://localhost:1"))

	code, stdout, _ := run(t, "validate", "-c", valid)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "is valid")
	assert.Contains(t, stdout, "thresholds: 1")

	invalid := writeConfig(t, `
stages:
  - {duration: 0s, target: 5}
thresholds:
  http_req_duration: ["p(95)<<500"]
scenario:
  requests:
    - {method: FETCH, url: /}
`)
	code, _, stderr := run(t, "validate", "-c", invalid)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "stages[0]")
	assert.Contains(t, stderr, "thresholds.http_req_duration[0]")
	assert.Contains(t, stderr, "method")
}

func TestHistory_Empty(t *testing.T) {
	code, stdout, _ := run(t, "history", "--db", filepath.Join(t.TempDir(), "h.db"))
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "No runs recorded")
}

func TestVersion(t *testing.T) {
	code, stdout, _ := run(t, "version")
	require.Equal(t, ExitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "rampvu "))
}

func TestReportName(t *testing.T) {
	name := reportName("Checkout / API")
	assert.True(t, strings.HasPrefix(name, "rampvu-checkout---api-"), name)
	assert.True(t, strings.HasSuffix(name, ".html"))
}
