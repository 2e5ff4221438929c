package threshold

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
)

// DefaultInterval is how often thresholds are evaluated during a run.
const DefaultInterval = 2 * time.Second

// Source provides metric snapshots; *metrics.Registry satisfies it.
type Source interface {
	Snapshot(name string) (metrics.Snapshot, bool)
}

// Set is a group of thresholds evaluated together.
type Set []*Threshold

// Validate checks every threshold against the metrics declared on reg.
// Submetrics named by a selector are declared on reg as a side effect, so
// they start collecting samples before the run starts.
func (ts Set) Validate(reg *metrics.Registry) error {
	var errs []error
	for _, t := range ts {
		m, err := reg.AddSubmetric(t.Metric)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %q: %w", t.Source, err))
			continue
		}
		if !t.AppliesTo(m.Type) {
			errs = append(errs, fmt.Errorf("threshold %q: %s is not defined for %s metric %s", t.Source, t.statLabel(), m.Type, t.Metric))
		}
	}
	return errors.Join(errs...)
}

// EvaluateSnapshots checks every threshold against snaps, keyed by metric
// name. It is pure: the same snapshots always give the same results.
func (ts Set) EvaluateSnapshots(snaps map[string]metrics.Snapshot) []Result {
	results := make([]Result, 0, len(ts))
	for _, t := range ts {
		s, ok := snaps[t.Metric]
		if !ok {
			results = append(results, Result{
				Metric:      t.Metric,
				Source:      t.Source,
				AbortOnFail: t.AbortOnFail,
				Threshold:   t.value,
				Message:     fmt.Sprintf("unknown metric %s", t.Metric),
			})
			continue
		}
		results = append(results, t.Check(s))
	}
	return results
}

// Snapshots takes one snapshot of every metric the set refers to.
func (ts Set) Snapshots(src Source) map[string]metrics.Snapshot {
	out := make(map[string]metrics.Snapshot, len(ts))
	for _, t := range ts {
		if _, done := out[t.Metric]; done {
			continue
		}
		if s, ok := src.Snapshot(t.Metric); ok {
			out[t.Metric] = s
		}
	}
	return out
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failing results.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Config configures an Evaluator.
type Config struct {
	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// OnAbort is called at most once, from the evaluator goroutine, when an
	// abort-on-fail threshold fails.
	OnAbort func(Result)

	Observer observe.Observer
}

// Evaluator periodically checks a threshold set against live metrics.
type Evaluator struct {
	set Set
	src Source
	cfg Config

	mu      sync.Mutex
	last    []Result
	ticks   int
	abortBy *Result
	start   time.Time
	failed  map[int]bool

	abortOnce sync.Once
	now       func() time.Time
}

// NewEvaluator creates an evaluator reading from src.
func NewEvaluator(set Set, src Source, cfg Config) *Evaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Nop
	}
	return &Evaluator{
		set:    set,
		src:    src,
		cfg:    cfg,
		failed: make(map[int]bool),
		now:    time.Now,
	}
}

// Evaluate checks every threshold against a fresh snapshot and keeps the
// results. It does not trigger aborts.
func (e *Evaluator) Evaluate() []Result {
	results := e.set.EvaluateSnapshots(e.set.Snapshots(e.src))

	e.mu.Lock()
	e.last = results
	if e.abortBy != nil {
		for i := range results {
			if results[i].Metric == e.abortBy.Metric && results[i].Source == e.abortBy.Source {
				results[i].Aborted = true
			}
		}
	}
	e.mu.Unlock()
	return results
}

// Run evaluates every interval until ctx is done or an abort-on-fail
// threshold fails. In the latter case OnAbort is called and Run returns
// with the triggering result.
func (e *Evaluator) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	e.start = e.now()
	e.mu.Unlock()

	if len(e.set) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if r := e.tick(); r != nil {
			return r, nil
		}
	}
}

// tick runs one periodic evaluation and returns the result that should
// abort the run, if any.
func (e *Evaluator) tick() *Result {
	results := e.Evaluate()

	e.mu.Lock()
	e.ticks++
	elapsed := e.now().Sub(e.start)
	var trigger *Result
	for i, r := range results {
		t := e.set[i]
		// A metric nobody has recorded yet is not a failure mid-run; the
		// final evaluation still reports it.
		if r.Passed || r.NoSamples {
			e.failed[i] = false
			continue
		}
		if !e.failed[i] {
			e.failed[i] = true
			e.cfg.Observer.Observe(observe.NewEvent(observe.EventThresholdFail, "threshold failing").
				With("metric", r.Metric).
				With("threshold", r.Source).
				With("actual", r.Actual))
		}
		if trigger == nil && t.AbortOnFail && elapsed >= t.DelayAbortEval {
			rr := r
			rr.Aborted = true
			trigger = &rr
		}
	}
	if trigger != nil && e.abortBy == nil {
		e.abortBy = trigger
	}
	e.mu.Unlock()

	if trigger == nil {
		return nil
	}

	e.abortOnce.Do(func() {
		e.cfg.Observer.Observe(observe.NewEvent(observe.EventAbort, "abort-on-fail threshold crossed").
			With("metric", trigger.Metric).
			With("threshold", trigger.Source).
			With("actual", trigger.Actual))
		if e.cfg.OnAbort != nil {
			e.cfg.OnAbort(*trigger)
		}
	})
	return trigger
}

// Results returns the results of the latest evaluation.
func (e *Evaluator) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.last))
	copy(out, e.last)
	return out
}

// Ticks returns how many periodic evaluations have run.
func (e *Evaluator) Ticks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

// AbortedBy returns the result that aborted the run, if any.
func (e *Evaluator) AbortedBy() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abortBy == nil {
		return Result{}, false
	}
	return *e.abortBy, true
}

// Set returns the evaluated thresholds.
func (e *Evaluator) Set() Set {
	return e.set
}
