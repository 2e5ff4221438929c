// Package engine is the run controller: it owns the setup and teardown
// hooks, drives the ramp scheduler and the threshold evaluator, and
// produces the final verdict.
//
// Example usage:
//
//	verdict, err := engine.Run(ctx, engine.Options{
//		Schedule: ramp.Schedule{Stages: []ramp.Stage{
//			{Duration: 30 * time.Second, Target: 10},
//			{Duration: time.Minute, Target: 10},
//		}},
//		Thresholds: threshold.Set{threshold.MustParse("http_req_duration", "p(95)<500")},
//		Scenario:   scenario,
//	})
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/rampvu/internal/loadtest"
	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
	"github.com/wesleyorama2/rampvu/internal/loadtest/ramp"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

// SetupFunc runs once before any VU starts. Its result is handed to every
// VU and to teardown.
type SetupFunc func(ctx context.Context, vu *loadtest.VU) (any, error)

// TeardownFunc runs once after every VU has stopped, even when setup
// failed (data is then nil) or the run was aborted.
type TeardownFunc func(ctx context.Context, vu *loadtest.VU, data any) error

// Options is the explicit configuration of one run.
type Options struct {
	Name string

	Schedule   ramp.Schedule
	Thresholds threshold.Set
	Scenario   loadtest.Scenario
	Setup      SetupFunc
	Teardown   TeardownFunc

	// HTTP configures the client VUs get through vu.HTTP().
	HTTP httpx.Config

	// Vars are handed to the scenario through vu.Vars().
	Vars map[string]string

	// MaxVUs caps the pool; targets above it are capped, not rejected.
	MaxVUs int

	// TickInterval is the ramp scheduler's tick (default 100ms).
	TickInterval time.Duration

	// EvalInterval is the threshold evaluator's tick (default 2s).
	EvalInterval time.Duration

	// TimeSeriesInterval is the time-series bucket width (default 1s).
	TimeSeriesInterval time.Duration

	// GracefulStop bounds the wait for in-flight iterations at teardown.
	// Zero waits for as long as the slowest iteration takes, which the HTTP
	// timeout bounds for request-driven scenarios.
	GracefulStop time.Duration

	Observer observe.Observer
	Sinks    []Sink

	// Registry, if set, is used instead of a fresh one. It lets callers
	// declare custom metrics before the run.
	Registry *metrics.Registry
}

// Status is a point-in-time view of a run for live displays.
type Status struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name,omitempty"`
	State     State         `json:"state"`
	Phase     metrics.Phase `json:"phase"`
	Elapsed   time.Duration `json:"elapsed"`
	Progress  float64       `json:"progress"`
	Stage     int           `json:"stage"`
	Stages    int           `json:"stages"`
	ActiveVUs int           `json:"activeVUs"`
	TargetVUs int           `json:"targetVUs"`
	MaxVUs    int           `json:"maxVUs"`
}

// Engine runs one load test.
type Engine struct {
	opts     Options
	runID    string
	registry *metrics.Registry
	builtins *metrics.BuiltinMetrics
	observer observe.Observer

	state atomic.Int32

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	stopReason string
	pool       *loadtest.Pool
	scheduler  *ramp.Scheduler
	evaluator  *threshold.Evaluator
	startTime  time.Time
}

// New validates opts and prepares an engine. Validation failures are
// returned as *ConfigError.
func New(opts Options) (*Engine, error) {
	var errs []error
	if opts.Scenario == nil {
		errs = append(errs, errors.New("scenario is required"))
	}
	if err := opts.Schedule.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if opts.MaxVUs < 0 {
		errs = append(errs, fmt.Errorf("maxVUs must be >= 0, got %d", opts.MaxVUs))
	}

	reg := opts.Registry
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	builtins := metrics.RegisterBuiltins(reg)

	if err := opts.Thresholds.Validate(reg); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	if len(errs) > 0 {
		return nil, &ConfigError{Err: errors.Join(errs...)}
	}

	if opts.MaxVUs == 0 {
		opts.MaxVUs = max(opts.Schedule.MaxTarget(), 1)
	}
	if opts.Observer == nil {
		opts.Observer = observe.Nop
	}

	return &Engine{
		opts:     opts,
		runID:    uuid.NewString(),
		registry: reg,
		builtins: builtins,
		observer: opts.Observer,
	}, nil
}

// Run is shorthand for New followed by Engine.Run.
func Run(ctx context.Context, opts Options) (*Verdict, error) {
	e, err := New(opts)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx)
}

// RunID returns the run's unique id.
func (e *Engine) RunID() string {
	return e.runID
}

// Registry returns the run's metric registry.
func (e *Engine) Registry() *metrics.Registry {
	return e.registry
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	e.observer.Observe(observe.NewEvent(observe.EventStateChanged, "").
		With("from", old.String()).
		With("to", s.String()).
		With("run_id", e.runID))
}

// Stop ends the run early as an abort with the given reason. In-flight
// iterations still complete and teardown still runs. Stop is a no-op once
// the run is tearing down.
func (e *Engine) Stop(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopReason == "" {
		if reason == "" {
			reason = "stopped"
		}
		e.stopReason = reason
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// Run executes the whole lifecycle: Idle, Setup, Running, TearingDown,
// Done. It returns an error only for misuse; a failed or aborted test is
// a Verdict with Passed false.
func (e *Engine) Run(ctx context.Context) (*Verdict, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	stopped := e.stopReason != ""
	e.mu.Unlock()
	defer cancel()

	if stopped {
		cancel()
	}

	client := httpx.NewClient(e.opts.HTTP, e.builtins)
	defer client.Close()

	env := &loadtest.Env{
		Builtins: e.builtins,
		Client:   client,
		Observer: e.observer,
		Vars:     e.opts.Vars,
	}

	// Setup
	e.setState(StateSetup)
	// Setup runs to completion like teardown; a Stop during setup ends the
	// run once it returns.
	data, setupErr := e.setup(context.WithoutCancel(runCtx), env)
	if setupErr != nil {
		data = nil
	}

	var (
		abortReason string
		evaluator   *threshold.Evaluator
	)

	// Running
	if setupErr == nil {
		env.SetupData = data
		e.setState(StateRunning)
		evaluator, abortReason = e.running(runCtx, env)
	}

	// TearingDown
	e.setState(StateTearingDown)
	verdict := e.tearDown(ctx, env, data, setupErr, evaluator, abortReason)

	// Done
	e.setState(StateDone)
	e.observer.Observe(observe.NewEvent(observe.EventRunCompleted, "run completed").
		With("run_id", e.runID).
		With("passed", verdict.Passed).
		With("aborted", verdict.Aborted).
		With("duration", verdict.Duration.String()))

	return verdict, nil
}

func (e *Engine) setup(ctx context.Context, env *loadtest.Env) (data any, err error) {
	if e.opts.Setup == nil {
		return nil, nil
	}

	e.observer.Observe(observe.NewEvent(observe.EventSetupStarted, "setup started"))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("setup panicked: %v", r)
		}
		if err != nil {
			e.observer.Observe(observe.NewEvent(observe.EventSetupFailed, "setup failed").WithErr(err))
			return
		}
		e.observer.Observe(observe.NewEvent(observe.EventSetupCompleted, "setup completed").
			With("duration", time.Since(start).String()))
	}()

	vu := loadtest.NewVU(0, env, metrics.Direct{Registry: e.registry})
	return e.opts.Setup(ctx, vu)
}

// running drives the scheduler and the evaluator until the schedule
// completes, an abort-on-fail threshold fires or ctx is cancelled. It
// returns the evaluator and, for an early end, the abort reason.
func (e *Engine) running(ctx context.Context, env *loadtest.Env) (*threshold.Evaluator, string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.registry.ResetClock()
	e.registry.StartTimeSeries(e.opts.TimeSeriesInterval)

	pool := loadtest.NewPool(ctx, loadtest.PoolConfig{
		Scenario: e.opts.Scenario,
		Env:      env,
		Registry: e.registry,
		MaxVUs:   e.opts.MaxVUs,
		Observer: e.observer,
	})
	scheduler := ramp.NewScheduler(ramp.Config{
		Schedule: e.opts.Schedule,
		Tick:     e.opts.TickInterval,
		Phases:   e.registry,
		Observer: e.observer,
	}, pool)

	var abortMu sync.Mutex
	var thresholdAbort string
	evaluator := threshold.NewEvaluator(e.opts.Thresholds, e.registry, threshold.Config{
		Interval: e.opts.EvalInterval,
		Observer: e.observer,
		OnAbort: func(r threshold.Result) {
			abortMu.Lock()
			thresholdAbort = fmt.Sprintf("threshold %s on %s crossed", r.Source, r.Metric)
			abortMu.Unlock()
			// Stop the scheduler right after this evaluation.
			cancel()
		},
	})

	e.mu.Lock()
	e.pool = pool
	e.scheduler = scheduler
	e.evaluator = evaluator
	e.startTime = time.Now()
	e.mu.Unlock()

	evalDone := make(chan struct{})
	go func() {
		defer close(evalDone)
		_, _ = evaluator.Run(ctx)
	}()

	schedErr := scheduler.Run(ctx)
	cancel()
	<-evalDone

	// Retire everything here so no VU outlives the Running state.
	pool.StopAll()

	abortMu.Lock()
	defer abortMu.Unlock()
	switch {
	case thresholdAbort != "":
		return evaluator, thresholdAbort
	case schedErr != nil:
		e.mu.Lock()
		reason := e.stopReason
		e.mu.Unlock()
		if reason == "" {
			reason = schedErr.Error()
		}
		e.observer.Observe(observe.NewEvent(observe.EventAbort, "run stopped").With("reason", reason))
		return evaluator, reason
	}
	return evaluator, ""
}

func (e *Engine) tearDown(ctx context.Context, env *loadtest.Env, data any, setupErr error,
	evaluator *threshold.Evaluator, abortReason string) *Verdict {
	// Teardown and sinks run even when the caller's context is gone.
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	pool := e.pool
	startTime := e.startTime
	e.mu.Unlock()

	if pool != nil {
		pool.StopAll()
		waitCtx := ctx
		if e.opts.GracefulStop > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, e.opts.GracefulStop)
			defer cancel()
		}
		if err := pool.Wait(waitCtx); err != nil {
			e.observer.Observe(observe.NewEvent(observe.EventGracefulStop, "VUs did not stop within the graceful stop period").
				With("graceful_stop", e.opts.GracefulStop.String()).
				With("active", pool.ActiveCount()))
		}
	}
	e.registry.StopTimeSeries()

	if startTime.IsZero() {
		startTime = time.Now()
	}

	var teardownErr error
	if e.opts.Teardown != nil {
		env.SetupData = data
		teardownErr = e.teardown(ctx, env, data)
	}

	var results []threshold.Result
	if evaluator != nil {
		results = evaluator.Evaluate()
	} else {
		results = e.opts.Thresholds.EvaluateSnapshots(e.opts.Thresholds.Snapshots(e.registry))
	}

	end := time.Now()
	v := &Verdict{
		RunID:       e.runID,
		Name:        e.opts.Name,
		Passed:      setupErr == nil && threshold.Passed(results),
		Aborted:     abortReason != "",
		AbortReason: abortReason,
		Results:     results,
		Failed:      threshold.Failed(results),
		StartTime:   startTime,
		EndTime:     end,
		Duration:    end.Sub(startTime),
		Metrics:     e.registry.Snapshots(),
		TimeSeries:  e.registry.TimeSeries(),
		Phases:      e.registry.PhaseHistory(),
	}
	if setupErr != nil {
		v.SetupError = setupErr.Error()
	}
	if teardownErr != nil {
		v.TeardownError = teardownErr.Error()
	}

	for _, sink := range e.opts.Sinks {
		if err := sink.Flush(ctx, v); err != nil {
			e.observer.Observe(observe.NewEvent(observe.EventSinkFailed, "sink flush failed").WithErr(err))
		}
	}
	return v
}

func (e *Engine) teardown(ctx context.Context, env *loadtest.Env, data any) (err error) {
	e.observer.Observe(observe.NewEvent(observe.EventTeardownStart, "teardown started"))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("teardown panicked: %v", r)
		}
		if err != nil {
			e.observer.Observe(observe.NewEvent(observe.EventTeardownFailed, "teardown failed").WithErr(err))
			return
		}
		e.observer.Observe(observe.NewEvent(observe.EventTeardownDone, "teardown completed"))
	}()

	vu := loadtest.NewVU(0, env, metrics.Direct{Registry: e.registry})
	return e.opts.Teardown(ctx, vu, data)
}

// Status returns a snapshot of the run's progress.
func (e *Engine) Status() Status {
	e.mu.Lock()
	pool, scheduler, startTime := e.pool, e.scheduler, e.startTime
	e.mu.Unlock()

	st := Status{
		RunID:  e.runID,
		Name:   e.opts.Name,
		State:  e.State(),
		Phase:  e.registry.Phase(),
		Stage:  -1,
		Stages: len(e.opts.Schedule.Stages),
		MaxVUs: e.opts.MaxVUs,
	}
	if !startTime.IsZero() {
		st.Elapsed = time.Since(startTime)
	}
	if pool != nil {
		st.ActiveVUs = pool.ActiveCount()
	}
	if scheduler != nil {
		st.Progress = scheduler.Progress()
		st.Stage = scheduler.CurrentStage()
		st.TargetVUs = scheduler.Desired()
	}
	if st.State == StateDone {
		st.Progress = 1
	}
	return st
}

// Progress returns schedule progress from 0 to 1.
func (e *Engine) Progress() float64 {
	return e.Status().Progress
}

// Snapshot returns live snapshots of every metric.
func (e *Engine) Snapshot() map[string]metrics.Snapshot {
	return e.registry.Snapshots()
}

// Thresholds returns the latest threshold results, evaluated fresh when
// the run has not produced any yet.
func (e *Engine) Thresholds() []threshold.Result {
	e.mu.Lock()
	evaluator := e.evaluator
	e.mu.Unlock()
	if evaluator != nil {
		if r := evaluator.Results(); len(r) > 0 {
			return r
		}
	}
	return e.opts.Thresholds.EvaluateSnapshots(e.opts.Thresholds.Snapshots(e.registry))
}

// Options returns the options the engine was created with, after defaults.
func (e *Engine) Options() Options {
	return e.opts
}
