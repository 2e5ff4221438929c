package perf

import (
	"context"
	"fmt"
	"sort"

	"github.com/wesleyorama2/rampvu/internal/loadtest"
	"github.com/wesleyorama2/rampvu/internal/loadtest/config"
	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
	"github.com/wesleyorama2/rampvu/internal/loadtest/ramp"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

type (
	Options      = engine.Options
	Verdict      = engine.Verdict
	Status       = engine.Status
	Engine       = engine.Engine
	Sink         = engine.Sink
	SinkFunc     = engine.SinkFunc
	SetupFunc    = engine.SetupFunc
	TeardownFunc = engine.TeardownFunc
	ConfigError  = engine.ConfigError

	Schedule = ramp.Schedule
	Stage    = ramp.Stage

	VU       = loadtest.VU
	Scenario = loadtest.Scenario

	Threshold       = threshold.Threshold
	Thresholds      = threshold.Set
	ThresholdResult = threshold.Result

	HTTPConfig = httpx.Config
	Response   = httpx.Response

	Snapshot = metrics.Snapshot
	Registry = metrics.Registry

	Event    = observe.Event
	Observer = observe.Observer
)

// Run executes one test and returns its verdict.
func Run(ctx context.Context, opts Options) (*Verdict, error) {
	return engine.Run(ctx, opts)
}

// New creates an engine for callers that need to watch or stop the run.
func New(opts Options) (*Engine, error) {
	return engine.New(opts)
}

// Constant returns a schedule holding vus VUs for the duration of d.
var Constant = ramp.Constant

// LoadFile reads a YAML or JSON test file and compiles it into options.
// Observer and sinks are left for the caller.
func LoadFile(path string) (Options, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return Options{}, err
	}
	return cfg.Compile()
}

// RunFile runs the test described in a YAML or JSON file.
func RunFile(ctx context.Context, path string, sinks ...Sink) (*Verdict, error) {
	opts, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	opts.Sinks = append(opts.Sinks, sinks...)
	return engine.Run(ctx, opts)
}

// ParseThresholds parses threshold expressions keyed by metric selector,
// e.g. {"http_req_duration": {"p(95)<500"}}.
func ParseThresholds(exprs map[string][]string) (Thresholds, error) {
	metricsNames := make([]string, 0, len(exprs))
	for m := range exprs {
		metricsNames = append(metricsNames, m)
	}
	sort.Strings(metricsNames)

	var set Thresholds
	for _, m := range metricsNames {
		for _, src := range exprs[m] {
			t, err := threshold.Parse(m, src)
			if err != nil {
				return nil, err
			}
			set = append(set, t)
		}
	}
	return set, nil
}

// MustThresholds is ParseThresholds that panics on error.
func MustThresholds(exprs map[string][]string) Thresholds {
	set, err := ParseThresholds(exprs)
	if err != nil {
		panic(fmt.Sprintf("perf: %v", err))
	}
	return set
}
