package config

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
)

const messagesYAML = `
name: messages-load
settings:
  baseUrl: "${BASE_URL:-http://localhost:8080}"
  timeout: 5s
  maxVUs: 50
variables:
  tenant: acme
startVUs: 2
stages:
  - {duration: 30s, target: 10}
  - {duration: 1m, target: 10, name: steady}
  - {duration: 30s, target: 0}
thresholds:
  http_req_duration:
    - "p(95)<500"
    - "p(99)<1s"
  http_req_failed:
    - threshold: "rate<0.05"
      abortOnFail: true
      delayAbortEval: 10s
  "checks{group:::Messages API}":
    - "rate>0.9"
setup:
  requests:
    - method: POST
      url: /login
      extract:
        - {name: token, path: $.token}
scenario:
  thinkTime: {min: 0s, max: 2s}
  groups:
    - name: Messages API
      requests:
        - name: list
          method: get
          url: /{{tenant}}/messages
          headers: {Authorization: "Bearer {{token}}"}
          checks:
            - {name: status is 200, type: status, value: "200"}
            - {type: duration, value: 500ms}
            - {type: jsonpath, path: $.messages}
`

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "seconds", input: "30s", expected: 30 * time.Second},
		{name: "minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	env := map[string]string{"HOST": "api.local", "EMPTY": ""}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	tests := map[string]string{
		"http://${HOST}/x":       "http://api.local/x",
		"${MISSING:-fallback}":   "fallback",
		"${EMPTY:-fallback}":     "fallback",
		"${EMPTY}":               "",
		"${MISSING}":             "${MISSING}",
		"$.data.id":              "$.data.id",
		"unterminated ${HOST":    "unterminated ${HOST",
		"${HOST}:${PORT:-8080}/": "api.local:8080/",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExpandEnv(in, lookup), in)
	}
}

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfigWithEnv([]byte(messagesYAML), "test.yaml", func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	assert.Equal(t, "messages-load", cfg.Name)
	assert.Equal(t, "http://localhost:8080", cfg.Settings.BaseURL)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Settings.Timeout))
	assert.Equal(t, 2, cfg.StartVUs)
	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, "steady", cfg.Stages[1].Name)

	failed := cfg.Thresholds["http_req_failed"]
	require.Len(t, failed, 1)
	assert.Equal(t, "rate<0.05", failed[0].Threshold)
	assert.True(t, failed[0].AbortOnFail)
	assert.Equal(t, "10s", failed[0].DelayAbortEval)
	assert.Equal(t, []ThresholdConfig{{Threshold: "p(95)<500"}, {Threshold: "p(99)<1s"}}, cfg.Thresholds["http_req_duration"])

	require.Len(t, cfg.Scenario.Groups, 1)
	assert.Len(t, cfg.Scenario.Groups[0].Requests[0].Checks, 3)
	assert.Equal(t, "2s", cfg.Scenario.ThinkTime.Max)
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
		"name": "smoke",
		"vus": 1,
		"duration": "30s",
		"thresholds": {
			"http_req_failed": ["rate<0.01", {"threshold": "rate<0.1", "abortOnFail": true}]
		},
		"scenario": {"requests": [{"method": "GET", "url": "/health"}]}
	}`

	cfg, err := ParseConfig([]byte(data), "smoke.json")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.VUs)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Duration))
	require.Len(t, cfg.Thresholds["http_req_failed"], 2)
	assert.True(t, cfg.Thresholds["http_req_failed"][1].AbortOnFail)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(messagesYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "messages-load", cfg.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	cfg, err := ParseConfigWithEnv([]byte(messagesYAML), "test.yaml", func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	opts, err := cfg.Compile()
	require.NoError(t, err)

	assert.Equal(t, "messages-load", opts.Name)
	assert.Equal(t, 2, opts.Schedule.StartVUs)
	assert.Equal(t, 2*time.Minute, opts.Schedule.TotalDuration())
	assert.Equal(t, 50, opts.MaxVUs)
	assert.Equal(t, "acme", opts.Vars["tenant"])
	assert.Equal(t, "http://localhost:8080", opts.Vars["baseUrl"])
	assert.NotNil(t, opts.Scenario)
	assert.NotNil(t, opts.Setup)
	assert.Nil(t, opts.Teardown)

	require.Len(t, opts.Thresholds, 4)
	var abort int
	for _, th := range opts.Thresholds {
		if th.AbortOnFail {
			abort++
			assert.Equal(t, "http_req_failed", th.Metric)
			assert.Equal(t, 10*time.Second, th.DelayAbortEval)
		}
	}
	assert.Equal(t, 1, abort)
}

func TestCompile_ConstantLoad(t *testing.T) {
	cfg := &TestConfig{
		VUs:      3,
		Duration: Duration(10 * time.Second),
		Scenario: ScenarioConfig{Requests: []RequestConfig{{URL: "/"}}},
	}
	opts, err := cfg.Compile()
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Schedule.StartVUs)
	require.Len(t, opts.Schedule.Stages, 1)
	assert.Equal(t, 3, opts.Schedule.Stages[0].Target)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := &TestConfig{
		Settings: GlobalSettings{BaseURL: "not a url", RPS: -1},
		Stages: []StageConfig{
			{Duration: "0s", Target: 1},
			{Duration: "10s", Target: -1},
		},
		Thresholds: map[string][]ThresholdConfig{
			"http_req_duration": {{Threshold: "p95 500"}},
			"http_req_failed":   {{Threshold: "p(95)<1"}},
			"nope":              {{Threshold: "avg<1"}},
		},
		Scenario: ScenarioConfig{Groups: []GroupConfig{{
			Requests: []RequestConfig{{
				Method:  "FETCH",
				Checks:  []CheckConfig{{Type: "teapot"}},
				Extract: []ExtractConfig{{Source: "body"}},
			}},
		}}},
		Options: ExecutionOptions{GracefulStop: "later"},
	}

	err := cfg.Validate()
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := verrs.Fields()
	for _, want := range []string{
		"settings.baseUrl",
		"settings.rps",
		"stages[0].duration",
		"stages[1].target",
		"thresholds.http_req_duration[0]",
		"thresholds.http_req_failed[0]",
		"thresholds.nope[0]",
		"scenario.groups[0].name",
		"scenario.groups[0].requests[0].method",
		"scenario.groups[0].requests[0].url",
		"scenario.groups[0].requests[0].checks[0]",
		"scenario.groups[0].requests[0].extract[0].name",
		"options.gracefulStop",
	} {
		assert.Contains(t, fields, want)
	}
	assert.Contains(t, err.Error(), "validation errors:")
}

func TestValidate_MissingLoad(t *testing.T) {
	cfg := &TestConfig{Scenario: ScenarioConfig{Requests: []RequestConfig{{URL: "/"}}}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "either stages or vus and duration are required")

	cfg = &TestConfig{VUs: 1, Duration: Duration(time.Second)}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one request or group is required")
}

func TestCompile_RunsAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			_, _ = w.Write([]byte(`{"token":"abc"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	yaml := `
vus: 2
duration: 200ms
options: {tickInterval: 10ms, evalInterval: 50ms}
thresholds:
  http_req_failed: ["rate<0.01"]
  checks: ["rate==1"]
setup:
  requests:
    - {method: POST, url: /login, extract: [{name: token, path: token}]}
scenario:
  thinkTime: {duration: 10ms}
  groups:
    - name: Messages
      requests:
        - url: /acme/messages
          headers: {Authorization: "Bearer {{token}}"}
          checks:
            - {type: status, value: "200"}
            - {type: body, value: messages}
`
	cfg, err := ParseConfigWithEnv([]byte(yaml), "", func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.Settings.BaseURL = srv.URL

	opts, err := cfg.Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	verdict, err := engine.Run(ctx, opts)
	require.NoError(t, err)
	assert.True(t, verdict.Passed, "%+v", verdict.Failed)

	checks, ok := verdict.Metric("checks")
	require.True(t, ok)
	assert.True(t, checks.Count > 0)
}

func TestExampleConfigsCompile(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "..", "examples", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			cfg, err := LoadConfig(path)
			require.NoError(t, err)

			opts, err := cfg.Compile()
			require.NoError(t, err)
			assert.NotNil(t, opts.Scenario)
			assert.NotEmpty(t, opts.Thresholds)
		})
	}
}
