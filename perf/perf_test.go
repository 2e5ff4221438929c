package perf_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampvu/perf"
)

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var flushed atomic.Int32
	verdict, err := perf.Run(context.Background(), perf.Options{
		Name:         "programmatic",
		Schedule:     perf.Constant(2, 200*time.Millisecond),
		TickInterval: 10 * time.Millisecond,
		Thresholds: perf.MustThresholds(map[string][]string{
			"http_req_failed": {"rate<0.01"},
			"checks":          {"rate==1"},
		}),
		Scenario: func(ctx context.Context, vu *perf.VU) error {
			resp, err := vu.HTTP().Get(ctx, srv.URL, nil)
			if err != nil {
				return err
			}
			vu.Check("status is 200", resp.Status == http.StatusOK)
			vu.Sleep(10 * time.Millisecond)
			return nil
		},
		Sinks: []perf.Sink{perf.SinkFunc(func(context.Context, *perf.Verdict) error {
			flushed.Add(1)
			return nil
		})},
	})
	require.NoError(t, err)
	assert.True(t, verdict.Passed, "%+v", verdict.Failed)
	assert.Equal(t, int32(1), flushed.Load())

	reqs, ok := verdict.Metric("http_reqs")
	require.True(t, ok)
	assert.True(t, reqs.Sum > 0)
}

func TestRunFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "test.json")
	doc := `{
  "name": "from file",
  "settings": {"baseUrl": "` + srv.URL + `"},
  "vus": 1,
  "duration": "150ms",
  "options": {"tickInterval": "10ms"},
  "thresholds": {"checks": ["rate==1"]},
  "scenario": {
    "thinkTime": {"duration": "10ms"},
    "requests": [{"url": "/", "checks": [{"type": "jsonpath", "path": "$.ok", "condition": "eq", "value": "true"}]}]
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	verdict, err := perf.RunFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "from file", verdict.Name)
	assert.True(t, verdict.Passed, "%+v", verdict.Failed)
}

func TestParseThresholds(t *testing.T) {
	set, err := perf.ParseThresholds(map[string][]string{
		"http_req_duration": {"p(95)<500", "avg<200"},
		"http_req_failed":   {"rate<0.05"},
	})
	require.NoError(t, err)
	assert.Len(t, set, 3)

	_, err = perf.ParseThresholds(map[string][]string{"http_req_duration": {"p95 is fast"}})
	assert.Error(t, err)

	assert.Panics(t, func() { perf.MustThresholds(map[string][]string{"x": {"??"}}) })
}

func TestLoadFileReportsValidationErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vus: 0\n"), 0o644))

	_, err := perf.LoadFile(path)
	assert.Error(t, err)
}
