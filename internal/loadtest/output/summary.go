package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
)

// PrintSummary prints the final results of a run. It is printed even in
// quiet mode.
func (c *Console) PrintSummary(v *engine.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()

	line := strings.Repeat(boxHorizontal, boxWidth)
	c.writeln("")
	c.writeln(c.accent.Sprint(line))
	if v.Passed {
		c.writeln(c.title.Sprintf("%s - %s", c.name(), c.ok.Sprint("PASSED")))
	} else {
		c.writeln(c.title.Sprintf("%s - %s", c.name(), c.bad.Sprint("FAILED")))
	}
	c.writeln(c.accent.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("  Duration:  %s", formatDuration(v.Duration)))
	if v.RunID != "" {
		c.writeln(fmt.Sprintf("  Run:       %s", c.dim.Sprint(v.RunID)))
	}
	if v.Aborted {
		c.writeln(fmt.Sprintf("  Aborted:   %s", c.warn.Sprint(v.AbortReason)))
	}
	if v.SetupError != "" {
		c.writeln(fmt.Sprintf("  Setup:     %s", c.bad.Sprint(v.SetupError)))
	}
	if v.TeardownError != "" {
		c.writeln(fmt.Sprintf("  Teardown:  %s", c.bad.Sprint(v.TeardownError)))
	}
	c.writeln("")

	c.writeln(c.title.Sprint("Metrics"))
	for _, name := range metricOrder(v.Metrics) {
		c.writeln("  " + c.metricLine(v.Metrics[name]))
	}

	if len(v.Results) > 0 {
		c.writeln("")
		c.writeln(c.title.Sprint("Thresholds"))
		for _, r := range v.Results {
			mark := c.ok.Sprint("✓")
			if !r.Passed {
				mark = c.bad.Sprint("✗")
			}
			detail := fmt.Sprintf("actual %s", formatValue(r.Actual))
			if r.Message != "" {
				detail = r.Message
			}
			suffix := ""
			if r.Aborted {
				suffix = c.warn.Sprint(" (aborted run)")
			}
			c.writeln(fmt.Sprintf("  %s %s %s %s%s", mark, r.Metric, r.Source, c.dim.Sprint(detail), suffix))
		}
	}
	c.writeln("")
}

// metricOrder lists metrics with samples, parents before their submetrics.
func metricOrder(snaps map[string]metrics.Snapshot) []string {
	names := make([]string, 0, len(snaps))
	for name, s := range snaps {
		if s.Count == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Console) metricLine(s metrics.Snapshot) string {
	dots := max(2, 34-visibleLen(s.Name))
	label := s.Name + c.dim.Sprint(strings.Repeat(".", dots)) + ": "

	switch s.Type {
	case metrics.Counter:
		return label + fmt.Sprintf("%s %s", c.accent.Sprint(formatMetricValue(s.Sum, s.Contains)), c.dim.Sprintf("%.2f/s", s.Rate))
	case metrics.Gauge:
		return label + fmt.Sprintf("%s min=%s max=%s",
			c.accent.Sprint(formatMetricValue(s.Value, s.Contains)),
			formatMetricValue(s.Min, s.Contains), formatMetricValue(s.Max, s.Contains))
	case metrics.Rate:
		col := c.ok
		if s.Name == metrics.HTTPReqFailedName || s.Name == metrics.IterationFailedName {
			col = c.rateColor(s.Rate, 0.01, 0.05)
		}
		return label + fmt.Sprintf("%s %s", col.Sprintf("%.2f%%", s.Rate*100), c.dim.Sprintf("✓ %d ✗ %d", s.Passes, s.Fails))
	default:
		f := func(v float64) string { return formatMetricValue(v, s.Contains) }
		return label + fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
			c.accent.Sprint(f(s.Avg)), f(s.Min), f(s.Med), f(s.Max), f(s.P90), f(s.P95))
	}
}

func formatMetricValue(v float64, contains metrics.ValueType) string {
	switch contains {
	case metrics.Time:
		return formatDurationShort(metrics.Duration(v))
	case metrics.Data:
		return formatBytes(int64(v))
	default:
		return formatValue(v)
	}
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return formatNumber(int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// formatDuration formats a duration as MM:SS or HH:MM:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// formatDurationShort formats a latency compactly.
func formatDurationShort(d time.Duration) string {
	switch {
	case d == 0:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatNumber formats an integer with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// visibleLen returns the length of s without ANSI escape sequences.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\033':
			inEscape = true
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
