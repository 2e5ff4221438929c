// Package report writes the verdict of a run to files: a self-contained
// HTML report with time-series charts and a machine-readable JSON summary.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
)

// ReportData is what the HTML template renders.
type ReportData struct {
	*engine.Verdict
	Description string

	TotalRequests int64
	RPS           float64
	ErrorRate     float64
	ChecksRate    float64
	HasChecks     bool
	Latency       metrics.Snapshot
	DataReceived  int64

	Rows           []MetricRow
	TimeSeriesJSON template.JS
}

// MetricRow is one line of the metrics table.
type MetricRow struct {
	Name   string
	Type   string
	Values string
}

// TimeSeriesPoint is one chart point; latencies are in milliseconds.
type TimeSeriesPoint struct {
	Timestamp         string  `json:"timestamp"`
	TotalRequests     int64   `json:"totalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`
	LatencyP50        float64 `json:"latencyP50"`
	LatencyP95        float64 `json:"latencyP95"`
	LatencyP99        float64 `json:"latencyP99"`
	ActiveVUs         int     `json:"activeVUs"`
	Phase             string  `json:"phase"`
}

var reportTemplate = template.Must(template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate))

// HTML renders v as an HTML document into w.
func HTML(w io.Writer, v *engine.Verdict, description string) error {
	if v == nil {
		return fmt.Errorf("verdict cannot be nil")
	}

	series, err := timeSeriesJSON(v.TimeSeries)
	if err != nil {
		return fmt.Errorf("convert time series: %w", err)
	}

	data := ReportData{
		Verdict:        v,
		Description:    description,
		Rows:           metricRows(v.Metrics),
		TimeSeriesJSON: template.JS(series),
	}
	if s, ok := v.Metric(metrics.HTTPReqsName); ok {
		data.TotalRequests = int64(s.Sum)
		data.RPS = s.Rate
	}
	if s, ok := v.Metric(metrics.HTTPReqFailedName); ok {
		data.ErrorRate = s.Rate
	}
	if s, ok := v.Metric(metrics.ChecksName); ok && s.Count > 0 {
		data.HasChecks = true
		data.ChecksRate = s.Rate
	}
	if s, ok := v.Metric(metrics.HTTPReqDurationName); ok {
		data.Latency = s
	}
	if s, ok := v.Metric(metrics.DataReceivedName); ok {
		data.DataReceived = int64(s.Sum)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// HTMLString renders v as an HTML document.
func HTMLString(v *engine.Verdict, description string) (string, error) {
	var buf bytes.Buffer
	if err := HTML(&buf, v, description); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HTMLFile is a sink writing the HTML report to Path.
type HTMLFile struct {
	Path        string
	Description string
}

// Flush implements engine.Sink.
func (h HTMLFile) Flush(_ context.Context, v *engine.Verdict) error {
	var buf bytes.Buffer
	if err := HTML(&buf, v, h.Description); err != nil {
		return err
	}
	if err := os.WriteFile(h.Path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write HTML report: %w", err)
	}
	return nil
}

func timeSeriesJSON(buckets []*metrics.TimeBucket) (string, error) {
	points := make([]TimeSeriesPoint, len(buckets))
	for i, b := range buckets {
		points[i] = TimeSeriesPoint{
			Timestamp:         b.Timestamp.Format(time.RFC3339),
			TotalRequests:     b.TotalRequests,
			IntervalRPS:       b.IntervalRPS,
			IntervalErrorRate: b.IntervalErrorRate,
			LatencyP50:        millis(b.LatencyP50),
			LatencyP95:        millis(b.LatencyP95),
			LatencyP99:        millis(b.LatencyP99),
			ActiveVUs:         b.ActiveVUs,
			Phase:             string(b.Phase),
		}
	}
	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func metricRows(snaps map[string]metrics.Snapshot) []MetricRow {
	names := make([]string, 0, len(snaps))
	for name, s := range snaps {
		if s.Count > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rows := make([]MetricRow, 0, len(names))
	for _, name := range names {
		s := snaps[name]
		rows = append(rows, MetricRow{Name: name, Type: s.Type.String(), Values: describe(s)})
	}
	return rows
}

func describe(s metrics.Snapshot) string {
	val := func(v float64) string {
		switch s.Contains {
		case metrics.Time:
			return formatLatency(metrics.Duration(v))
		case metrics.Data:
			return formatBytes(int64(v))
		default:
			return formatFloat(v)
		}
	}

	switch s.Type {
	case metrics.Counter:
		return fmt.Sprintf("%s (%.2f/s)", val(s.Sum), s.Rate)
	case metrics.Gauge:
		return fmt.Sprintf("%s (min %s, max %s)", val(s.Value), val(s.Min), val(s.Max))
	case metrics.Rate:
		return fmt.Sprintf("%.2f%% (%d of %d)", s.Rate*100, s.Passes, s.Count)
	default:
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
			val(s.Avg), val(s.Min), val(s.Med), val(s.Max), val(s.P90), val(s.P95), val(s.P99))
	}
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   formatNumber,
		"formatLatency":  formatLatency,
		"formatBytes":    formatBytes,
		"formatFloat":    formatFloat,
		"ms":             metrics.Duration,
		"percent":        func(v float64) string { return fmt.Sprintf("%.2f", v*100) },
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
}

func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	out := make([]byte, 0, len(str)+len(str)/3)
	for i := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, str[i])
	}
	return string(out)
}

func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		ms := float64(d.Microseconds()) / 1000.0
		if ms < 10 {
			return fmt.Sprintf("%.2fms", ms)
		}
		if ms < 100 {
			return fmt.Sprintf("%.1fms", ms)
		}
		return fmt.Sprintf("%dms", int(ms))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.2f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/KB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return formatNumber(int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
