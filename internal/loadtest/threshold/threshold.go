// Package threshold parses and evaluates pass/fail rules over aggregate
// metric statistics, such as "p(95)<500" or "rate<0.05".
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
)

// Statistic names accepted on the left-hand side of an expression.
const (
	StatAvg        = "avg"
	StatMin        = "min"
	StatMax        = "max"
	StatMed        = "med"
	StatCount      = "count"
	StatRate       = "rate"
	StatValue      = "value"
	StatPercentile = "p"
)

// Both "p(95) < 500" and the shorter "p95 < 500ms" are accepted.
var exprRe = regexp.MustCompile(`^\s*(p\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)|p([0-9]+(?:\.[0-9]+)?)|avg|min|max|med|count|rate|value)\s*(<=|>=|==|!=|<>|<|>|=)\s*(\S+)\s*$`)

// Threshold is one pass/fail rule on one metric.
type Threshold struct {
	// Metric is the metric name, optionally with a tag selector such as
	// "http_req_duration{status:200}".
	Metric string `json:"metric"`

	// Source is the expression as written.
	Source string `json:"source"`

	// AbortOnFail stops the run as soon as the threshold fails.
	AbortOnFail bool `json:"abortOnFail,omitempty"`

	// DelayAbortEval postpones abort checks until this much of the run has
	// elapsed, so early noise does not end a test.
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty"`

	stat       string
	percentile float64
	op         string
	value      float64
}

// Parse parses source as a threshold on metric.
func Parse(metric, source string) (*Threshold, error) {
	if _, _, err := metrics.ParseSelector(metric); err != nil {
		return nil, fmt.Errorf("threshold on %q: %w", metric, err)
	}

	m := exprRe.FindStringSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q on %s: expected e.g. \"p(95)<500\" or \"rate<0.05\"", source, metric)
	}

	t := &Threshold{Metric: strings.TrimSpace(metric), Source: source, op: m[4]}

	switch {
	case m[2] != "" || m[3] != "":
		pct := m[2]
		if pct == "" {
			pct = m[3]
		}
		p, err := strconv.ParseFloat(pct, 64)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("invalid percentile in %q: must be between 0 and 100", source)
		}
		t.stat = StatPercentile
		t.percentile = p
	default:
		t.stat = m[1]
	}

	v, err := ParseValue(m[5])
	if err != nil {
		return nil, fmt.Errorf("invalid threshold value in %q: %w", source, err)
	}
	t.value = v

	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(metric, source string) *Threshold {
	t, err := Parse(metric, source)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseValue accepts a plain number or a duration such as "500ms" or "1.5s",
// which is converted to milliseconds.
func ParseValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%q is not a finite number", s)
		}
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a number nor a duration", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Statistic returns the name of the statistic the expression tests:
// "p" for percentiles.
func (t *Threshold) Statistic() string {
	return t.stat
}

// Value returns the right-hand side of the expression. Durations are in
// milliseconds.
func (t *Threshold) Value() float64 {
	return t.value
}

// Operator returns the comparison operator.
func (t *Threshold) Operator() string {
	return t.op
}

// AppliesTo reports whether the statistic is defined for metrics of type mt.
func (t *Threshold) AppliesTo(mt metrics.MetricType) bool {
	switch mt {
	case metrics.Trend:
		switch t.stat {
		case StatAvg, StatMin, StatMax, StatMed, StatPercentile, StatCount:
			return true
		}
	case metrics.Counter:
		return t.stat == StatCount || t.stat == StatRate
	case metrics.Rate:
		return t.stat == StatRate
	case metrics.Gauge:
		return t.stat == StatValue || t.stat == StatMin || t.stat == StatMax
	}
	return false
}

// actual extracts the statistic from s.
func (t *Threshold) actual(s metrics.Snapshot) float64 {
	switch t.stat {
	case StatAvg:
		return s.Avg
	case StatMin:
		return s.Min
	case StatMax:
		return s.Max
	case StatMed:
		return s.Med
	case StatPercentile:
		return s.Percentile(t.percentile)
	case StatCount:
		if s.Type == metrics.Counter {
			return s.Sum
		}
		return float64(s.Count)
	case StatRate:
		return s.Rate
	default:
		return s.Value
	}
}

// Check evaluates the threshold against s. It has no side effects, so
// checking the same snapshot twice always gives the same result. A metric
// without samples fails: an unmeasured threshold never passes.
func (t *Threshold) Check(s metrics.Snapshot) Result {
	r := Result{
		Metric:      t.Metric,
		Source:      t.Source,
		AbortOnFail: t.AbortOnFail,
		Threshold:   t.value,
	}
	if !t.AppliesTo(s.Type) {
		r.Message = fmt.Sprintf("%s is not defined for %s metric %s", t.statLabel(), s.Type, t.Metric)
		return r
	}
	if s.Count == 0 {
		r.NoSamples = true
		r.Message = fmt.Sprintf("%s has no samples", t.Metric)
		return r
	}

	r.Actual = t.actual(s)
	r.Passed = compare(r.Actual, t.op, t.value)
	if !r.Passed {
		r.Message = fmt.Sprintf("%s of %s is %s, want %s %s", t.statLabel(), t.Metric, formatValue(r.Actual), t.op, formatValue(t.value))
	}
	return r
}

func (t *Threshold) statLabel() string {
	if t.stat == StatPercentile {
		return "p(" + strconv.FormatFloat(t.percentile, 'f', -1, 64) + ")"
	}
	return t.stat
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// compare compares two values using the given operator.
func compare(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}

// Result is the outcome of checking one threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Source      string  `json:"source"`
	Passed      bool    `json:"passed"`
	Actual      float64 `json:"actual"`
	Threshold   float64 `json:"threshold"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`

	// Aborted is set on the result that ended the run early.
	Aborted bool `json:"aborted,omitempty"`

	// NoSamples marks a failure caused by the metric never being recorded.
	NoSamples bool   `json:"noSamples,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (r Result) String() string {
	status := "ok"
	if !r.Passed {
		status = "FAIL"
	}
	return fmt.Sprintf("%s %s %s", status, r.Metric, r.Source)
}
