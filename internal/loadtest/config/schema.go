// Package config loads load-test files (YAML or JSON), validates them and
// compiles them into engine options.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root of a test file.
//
// Example YAML:
//
//	name: flighthours-load
//	settings:
//	  baseUrl: "${BASE_URL}"
//	  timeout: 10s
//	stages:
//	  - {duration: 30s, target: 10}
//	  - {duration: 1m, target: 10}
//	  - {duration: 30s, target: 0}
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  http_req_failed:
//	    - {threshold: "rate<0.05", abortOnFail: true}
//	scenario:
//	  thinkTime: {min: 0s, max: 2s}
//	  groups:
//	    - name: Messages API
//	      requests:
//	        - name: list messages
//	          method: GET
//	          url: /api/messages
//	          checks:
//	            - {type: status, value: "200"}
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Settings  GlobalSettings    `json:"settings,omitempty" yaml:"settings,omitempty"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// VUs and Duration describe a constant load. They are ignored when
	// Stages is set.
	VUs      int      `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs is the VU count the first stage ramps from.
	StartVUs int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Thresholds maps a metric, optionally with a tag selector such as
	// "http_req_duration{status:200}", to its expressions.
	Thresholds map[string][]ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Setup    *HookConfig    `json:"setup,omitempty" yaml:"setup,omitempty"`
	Teardown *HookConfig    `json:"teardown,omitempty" yaml:"teardown,omitempty"`
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`

	Options ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains HTTP and execution settings.
type GlobalSettings struct {
	BaseURL             string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Timeout             Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RPS                 float64           `json:"rps,omitempty" yaml:"rps,omitempty"`
	MaxVUs              int               `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`
	MaxIdleConnsPerHost int               `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	InsecureSkipVerify  bool              `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	UserAgent           string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers             map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// StageConfig is one ramp stage.
type StageConfig struct {
	Duration string `json:"duration" yaml:"duration"`
	Target   int    `json:"target" yaml:"target"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThresholdConfig is one threshold expression. In files it is either a
// plain string ("p(95)<500") or an object with abort options.
type ThresholdConfig struct {
	Threshold      string `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval string `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

type thresholdObject ThresholdConfig

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Threshold = node.Value
		return nil
	}
	var obj thresholdObject
	if err := node.Decode(&obj); err != nil {
		return err
	}
	*t = ThresholdConfig(obj)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.Threshold = s
		return nil
	}
	var obj thresholdObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("threshold must be a string or an object: %w", err)
	}
	*t = ThresholdConfig(obj)
	return nil
}

// HookConfig is a setup or teardown request list.
type HookConfig struct {
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// ScenarioConfig is the request sequence every VU repeats.
type ScenarioConfig struct {
	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Requests run before any group.
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`
	Groups   []GroupConfig   `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ThinkTimeConfig is either a fixed duration or a uniform random range.
type ThinkTimeConfig struct {
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`
}

// GroupConfig is a named list of requests.
type GroupConfig struct {
	Name     string          `json:"name" yaml:"name"`
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig is a single HTTP request.
type RequestConfig struct {
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// ThinkTime is a pause after this request.
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	Checks  []CheckConfig   `json:"checks,omitempty" yaml:"checks,omitempty"`
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// CheckConfig is a response check.
type CheckConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is status, duration, body, header, jsonpath or jsonschema.
	Type string `json:"type" yaml:"type"`

	// Condition is eq, ne, gt, gte, lt, lte, contains, not_contains,
	// matches, exists, not_empty or in.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ExtractConfig captures a response value into a variable.
type ExtractConfig struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Regex  string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// ExecutionOptions tune the engine.
type ExecutionOptions struct {
	GracefulStop       string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	TickInterval       string `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
	EvalInterval       string `json:"evalInterval,omitempty" yaml:"evalInterval,omitempty"`
	TimeSeriesInterval string `json:"timeSeriesInterval,omitempty" yaml:"timeSeriesInterval,omitempty"`
}

// Duration is a time.Duration written as a string ("30s", "2m").
type Duration time.Duration

// GetDuration returns the duration or def if unset.
func (d Duration) GetDuration(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
