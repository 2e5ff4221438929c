// Package metrics provides the sample registry used by the load engine.
//
// Every observation made by a virtual user (a request duration, a check
// outcome, an iteration) is a Sample pushed into a named Metric. Each metric
// owns its own sink and lock, so concurrent VUs never contend on a single
// registry-wide mutex while recording.
package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// MetricType identifies how samples of a metric are aggregated.
type MetricType int

const (
	// Counter sums values and tracks a per-second rate.
	Counter MetricType = iota
	// Gauge keeps the last value along with min and max.
	Gauge
	// Rate tracks the fraction of non-zero values.
	Rate
	// Trend keeps the full distribution for percentile statistics.
	Trend
)

func (t MetricType) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MetricType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseMetricType parses "counter", "gauge", "rate" or "trend".
func ParseMetricType(s string) (MetricType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return Counter, nil
	case "gauge":
		return Gauge, nil
	case "rate":
		return Rate, nil
	case "trend":
		return Trend, nil
	default:
		return 0, fmt.Errorf("unknown metric type: %q", s)
	}
}

// ValueType describes what the values of a metric represent.
type ValueType int

const (
	// Default is a plain number.
	Default ValueType = iota
	// Time values are milliseconds.
	Time
	// Data values are bytes.
	Data
)

func (v ValueType) String() string {
	switch v {
	case Time:
		return "time"
	case Data:
		return "data"
	default:
		return "default"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v ValueType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Tags are key/value labels attached to a sample.
type Tags map[string]string

// With returns a copy of t with key set to value.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[key] = value
	return out
}

// Merge returns a copy of t overlaid with other.
func (t Tags) Merge(other Tags) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Contains reports whether every tag in sel is present in t with the same value.
func (t Tags) Contains(sel Tags) bool {
	for k, v := range sel {
		if got, ok := t[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// String renders the tags as "{k:v,k:v}" with sorted keys.
func (t Tags) String() string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(t[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Sample is a single observation. It is never modified after it is recorded.
type Sample struct {
	Metric *Metric
	Value  float64
	Time   time.Time
	Tags   Tags
}

// Metric is a named series of samples with a fixed aggregation type.
type Metric struct {
	Name     string
	Type     MetricType
	Contains ValueType

	// Parent and Selector are set for submetrics such as
	// http_req_duration{status:200}.
	Parent   *Metric
	Selector Tags

	sink       sink
	submetrics []*Metric
}

var metricNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// ValidName reports whether name is usable as a metric name.
func ValidName(name string) bool {
	return metricNameRe.MatchString(name)
}

// ParseSelector splits "name{k:v,k2:v2}" into the metric name and its tag
// selector. A plain name returns a nil selector.
func ParseSelector(selector string) (string, Tags, error) {
	selector = strings.TrimSpace(selector)
	open := strings.IndexByte(selector, '{')
	if open == -1 {
		if !ValidName(selector) {
			return "", nil, fmt.Errorf("invalid metric name: %q", selector)
		}
		return selector, nil, nil
	}

	name := selector[:open]
	if !ValidName(name) {
		return "", nil, fmt.Errorf("invalid metric name: %q", name)
	}
	if !strings.HasSuffix(selector, "}") {
		return "", nil, fmt.Errorf("missing closing brace in %q", selector)
	}

	body := strings.TrimSpace(selector[open+1 : len(selector)-1])
	if body == "" {
		return "", nil, fmt.Errorf("empty tag selector in %q", selector)
	}

	tags := Tags{}
	for _, part := range strings.Split(body, ",") {
		// Only the first colon separates key from value; group paths contain "::".
		idx := strings.IndexByte(part, ':')
		if idx <= 0 {
			return "", nil, fmt.Errorf("invalid tag %q in %q, expected key:value", part, selector)
		}
		key := strings.TrimSpace(part[:idx])
		value := strings.Trim(strings.TrimSpace(part[idx+1:]), `"'`)
		tags[key] = value
	}

	return name, tags, nil
}
