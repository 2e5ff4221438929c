package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is a consistent point-in-time view of one metric.
//
// A snapshot owns a private copy of the trend distribution, so computing
// statistics from it any number of times always yields the same answer.
type Snapshot struct {
	Name     string     `json:"name"`
	Type     MetricType `json:"type"`
	Contains ValueType  `json:"contains"`

	// Count is the number of samples observed.
	Count int64 `json:"count"`

	// Sum is the sum of all values (counter, trend).
	Sum float64 `json:"sum"`

	// Trend statistics.
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	Med float64 `json:"med"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`

	// Rate is the fraction of true samples for rates and the per-second
	// rate for counters.
	Rate   float64 `json:"rate"`
	Passes int64   `json:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty"`

	// Value is the last value for gauges, the sum for counters and the
	// rate for rates.
	Value float64 `json:"value"`

	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`

	hist *hdrhistogram.Histogram
}

// Percentile returns the value at percentile p (0-100) for trend metrics.
// It returns 0 for other metric types or when no samples were recorded.
func (s Snapshot) Percentile(p float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	v := float64(s.hist.ValueAtQuantile(p)) / trendScale

	// The histogram reports the upper edge of a bucket; keep results inside
	// the range that was actually observed.
	if v > s.Max {
		v = s.Max
	}
	if v < s.Min {
		v = s.Min
	}
	return v
}

// Duration converts a time-valued statistic (milliseconds) to a time.Duration.
func Duration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
