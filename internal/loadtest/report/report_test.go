package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

func sampleVerdict(passed bool) *engine.Verdict {
	r := metrics.NewRegistry()
	b := metrics.RegisterBuiltins(r)
	d := metrics.Direct{Registry: r}

	for i := 0; i < 20; i++ {
		d.Add(b.HTTPReqs, 1, nil)
		d.Add(b.HTTPReqDuration, float64(20+i), nil)
		d.Add(b.HTTPReqFailed, 0, nil)
		d.Add(b.Checks, 1, nil)
	}
	d.Add(b.VUs, 5, nil)
	r.EmitBucket()
	r.EmitBucket()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := &engine.Verdict{
		RunID:      "7d0f7d2e-run",
		Name:       "Checkout flow",
		Passed:     passed,
		StartTime:  start,
		EndTime:    start.Add(2 * time.Minute),
		Duration:   2 * time.Minute,
		Metrics:    r.Snapshots(),
		TimeSeries: r.TimeSeries(),
		Results: []threshold.Result{
			{Metric: "http_req_duration", Source: "p(95)<500", Passed: true, Actual: 38},
		},
	}
	if !passed {
		v.Results = append(v.Results, threshold.Result{Metric: "checks", Source: "rate>0.99", Passed: false, Actual: 0.5, Aborted: true})
		v.Aborted = true
		v.AbortReason = "threshold checks rate>0.99 failed"
	}
	return v
}

func TestHTMLString(t *testing.T) {
	html, err := HTMLString(sampleVerdict(true), "nightly run")
	if err != nil {
		t.Fatalf("HTMLString failed: %v", err)
	}

	expected := []string{
		"<!DOCTYPE html>",
		"<title>Checkout flow - Load Test Report</title>",
		"nightly run",
		"✓ PASSED",
		"Total Requests",
		"Throughput",
		"P95 Latency",
		"chart.js",
		"rpsChart",
		"latencyChart",
		"vusChart",
		"errorChart",
		"p(95)&lt;500",
		"http_req_duration",
		"7d0f7d2e-run",
	}
	for _, want := range expected {
		if !strings.Contains(html, want) {
			t.Errorf("HTML does not contain %q", want)
		}
	}
	if strings.Contains(html, "const timeSeriesData = [];") {
		t.Error("time series should be embedded")
	}
}

func TestHTMLStringFailedRun(t *testing.T) {
	html, err := HTMLString(sampleVerdict(false), "")
	if err != nil {
		t.Fatalf("HTMLString failed: %v", err)
	}
	for _, want := range []string{"✗ FAILED", "Aborted: threshold checks rate&gt;0.99 failed", "aborted the run"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML does not contain %q", want)
		}
	}
}

func TestHTMLStringNilVerdict(t *testing.T) {
	if _, err := HTMLString(nil, ""); err == nil {
		t.Error("expected error for nil verdict")
	}
}

func TestHTMLFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")

	var sink engine.Sink = HTMLFile{Path: path}
	if err := sink.Flush(context.Background(), sampleVerdict(true)); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(content), "Checkout flow") {
		t.Error("report file does not contain the run name")
	}
}

func TestJSONOmitsSeriesByDefault(t *testing.T) {
	v := sampleVerdict(true)

	var buf bytes.Buffer
	if err := JSON(&buf, v, false); err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := decoded["timeSeries"]; ok {
		t.Error("time series should be omitted")
	}
	if decoded["passed"] != true {
		t.Errorf("passed = %v, want true", decoded["passed"])
	}
	if len(v.TimeSeries) == 0 {
		t.Error("JSON must not modify the verdict")
	}

	buf.Reset()
	if err := JSON(&buf, v, true); err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"timeSeries"`) {
		t.Error("time series should be included when requested")
	}
}

func TestJSONFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")

	if err := (JSONFile{Path: path}).Flush(context.Background(), sampleVerdict(false)); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var decoded struct {
		Passed  bool   `json:"passed"`
		Aborted bool   `json:"aborted"`
		RunID   string `json:"runId"`
		Metrics map[string]struct {
			Count int64 `json:"count"`
		} `json:"metrics"`
		Thresholds []threshold.Result `json:"thresholds"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Passed || !decoded.Aborted {
		t.Errorf("passed=%v aborted=%v, want false/true", decoded.Passed, decoded.Aborted)
	}
	if decoded.Metrics["http_reqs"].Count != 20 {
		t.Errorf("http_reqs count = %d, want 20", decoded.Metrics["http_reqs"].Count)
	}
	if len(decoded.Thresholds) != 2 {
		t.Errorf("thresholds = %d, want 2", len(decoded.Thresholds))
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatNumber(1234567), "1,234,567"},
		{formatNumber(999), "999"},
		{formatLatency(0), "0"},
		{formatLatency(1500 * time.Microsecond), "1.50ms"},
		{formatLatency(250 * time.Millisecond), "250ms"},
		{formatDuration(90 * time.Second), "1m 30s"},
		{formatBytes(2048), "2.00 KB"},
		{formatFloat(3), "3"},
		{formatFloat(0.25), "0.25"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
