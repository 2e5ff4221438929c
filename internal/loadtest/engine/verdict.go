package engine

import (
	"context"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

// Verdict is the final outcome of a run.
type Verdict struct {
	RunID string `json:"runId"`
	Name  string `json:"name,omitempty"`

	// Passed is true when every threshold passed and setup succeeded.
	Passed bool `json:"passed"`

	// Aborted is true when the run ended before the schedule completed,
	// either through an abort-on-fail threshold or an external stop.
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abortReason,omitempty"`

	SetupError    string `json:"setupError,omitempty"`
	TeardownError string `json:"teardownError,omitempty"`

	Results []threshold.Result `json:"thresholds"`
	Failed  []threshold.Result `json:"failedThresholds,omitempty"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Metrics    map[string]metrics.Snapshot `json:"metrics"`
	TimeSeries []*metrics.TimeBucket       `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange       `json:"phases,omitempty"`
}

// Metric returns the final snapshot of the named metric.
func (v *Verdict) Metric(name string) (metrics.Snapshot, bool) {
	s, ok := v.Metrics[name]
	return s, ok
}

// Sink receives the verdict once the run has torn down: a report writer,
// a history store, an external metrics backend.
type Sink interface {
	Flush(ctx context.Context, v *Verdict) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, v *Verdict) error

// Flush calls f(ctx, v).
func (f SinkFunc) Flush(ctx context.Context, v *Verdict) error {
	return f(ctx, v)
}
