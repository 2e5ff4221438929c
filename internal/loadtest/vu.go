// Package loadtest holds the virtual users of the load engine and the pool
// that runs them.
package loadtest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
)

// Scenario is the workload a VU runs once per iteration. A returned error
// or a panic marks the iteration as failed; the VU carries on with the
// next one.
type Scenario func(ctx context.Context, vu *VU) error

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU will exit after its current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Env is what every VU of a run shares. All fields are read-only once the
// run starts.
type Env struct {
	Builtins *metrics.BuiltinMetrics
	Client   *httpx.Client
	Observer observe.Observer

	// Vars are explicit scenario variables such as the base URL.
	Vars map[string]string

	// SetupData is the value returned by the setup hook.
	SetupData any
}

// VU is one simulated user. It is the capability object handed to
// the scenario: HTTP, checks, groups, think time and custom metrics all go
// through it, so no scenario needs globals.
//
// A VU is driven by a single goroutine; the group stack is guarded anyway
// so scenarios may record from helper goroutines.
type VU struct {
	id  int
	env *Env

	state     atomic.Int32
	iteration atomic.Int64
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
	doneOnce  sync.Once

	rec    metrics.Recorder
	buffer *metrics.Buffer
	http   *httpx.Session

	mu     sync.RWMutex
	groups []string
	data   map[string]any

	sleep func(time.Duration)
}

// NewVU creates a VU recording into rec. If rec is a *metrics.Buffer it is
// flushed at the end of every iteration.
func NewVU(id int, env *Env, rec metrics.Recorder) *VU {
	if env == nil {
		env = &Env{}
	}
	if env.Observer == nil {
		env.Observer = observe.Nop
	}

	vu := &VU{
		id:     id,
		env:    env,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		rec:    rec,
		data:   make(map[string]any),
		sleep:  time.Sleep,
	}
	if buf, ok := rec.(*metrics.Buffer); ok {
		vu.buffer = buf
	}
	if env.Client != nil {
		vu.http = env.Client.Session(rec, vu.Tags)
	}
	return vu
}

// ID returns the VU's id, starting at 1. Setup and teardown run as VU 0.
func (vu *VU) ID() int {
	return vu.id
}

// Iteration returns the number of the iteration in progress, starting at 1.
func (vu *VU) Iteration() int64 {
	return vu.iteration.Load()
}

// State returns the current VU state.
func (vu *VU) State() VUState {
	return VUState(vu.state.Load())
}

// HTTP returns the VU's HTTP capability, or nil when the run has no client.
func (vu *VU) HTTP() *httpx.Session {
	return vu.http
}

// Vars returns the run's scenario variables. The map must not be modified.
func (vu *VU) Vars() map[string]string {
	return vu.env.Vars
}

// Var returns one scenario variable.
func (vu *VU) Var(key string) string {
	return vu.env.Vars[key]
}

// SetupData returns the value produced by the setup hook.
func (vu *VU) SetupData() any {
	return vu.env.SetupData
}

// Set stores a value in the VU's own variable scope. Values survive across
// iterations of the same VU.
func (vu *VU) Set(key string, value any) {
	vu.mu.Lock()
	vu.data[key] = value
	vu.mu.Unlock()
}

// Get retrieves a value from the VU's variable scope.
func (vu *VU) Get(key string) (any, bool) {
	vu.mu.RLock()
	defer vu.mu.RUnlock()
	v, ok := vu.data[key]
	return v, ok
}

// GroupPath returns the current group path, "" at the top level and
// "::outer::inner" inside nested groups.
func (vu *VU) GroupPath() string {
	vu.mu.RLock()
	defer vu.mu.RUnlock()
	return groupPath(vu.groups)
}

func groupPath(groups []string) string {
	path := ""
	for _, g := range groups {
		path += "::" + g
	}
	return path
}

// Tags returns the tags every sample of the VU carries right now.
func (vu *VU) Tags() metrics.Tags {
	return metrics.Tags{"group": vu.GroupPath()}
}

// Add records a sample of a custom metric, tagged with the current group.
func (vu *VU) Add(m *metrics.Metric, value float64, tags metrics.Tags) {
	if vu.rec == nil {
		return
	}
	vu.rec.Add(m, value, vu.Tags().Merge(tags))
}

// Check records a named boolean assertion into the checks metric and
// returns ok.
func (vu *VU) Check(name string, ok bool) bool {
	if vu.env.Builtins != nil && vu.rec != nil {
		v := 0.0
		if ok {
			v = 1
		}
		vu.rec.Add(vu.env.Builtins.Checks, v, vu.Tags().With("check", name))
	}
	return ok
}

// Checks runs every predicate against subject, in name order, and reports
// whether all of them passed.
func (vu *VU) Checks(subject any, checks map[string]func(any) bool) bool {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	all := true
	for _, name := range names {
		if !vu.Check(name, checks[name](subject)) {
			all = false
		}
	}
	return all
}

// Group runs fn inside a named group. Samples recorded inside carry the
// group path; the time spent is recorded as group_duration.
func (vu *VU) Group(name string, fn func() error) error {
	vu.mu.Lock()
	vu.groups = append(vu.groups, name)
	path := groupPath(vu.groups)
	vu.mu.Unlock()

	start := time.Now()
	defer func() {
		if vu.env.Builtins != nil && vu.rec != nil {
			vu.rec.Add(vu.env.Builtins.GroupDuration, msSince(start), metrics.Tags{"group": path})
		}
		vu.mu.Lock()
		vu.groups = vu.groups[:len(vu.groups)-1]
		vu.mu.Unlock()
	}()

	return fn()
}

// Sleep pauses the VU for think time. It is never cut short: a retiring VU
// finishes its iteration, think time included.
func (vu *VU) Sleep(d time.Duration) {
	if d > 0 {
		vu.sleep(d)
	}
}

// RunIteration executes scenario once and records iterations,
// iteration_duration and iteration_failed. A panic inside the scenario is
// recovered and reported as a failed iteration.
func (vu *VU) RunIteration(ctx context.Context, scenario Scenario) (err error) {
	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	iter := vu.iteration.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in iteration %d of VU %d: %v", iter, vu.id, r)
			vu.env.Observer.Observe(observe.NewEvent(observe.EventIterationPanic, "scenario panicked").
				With("vu", vu.id).
				With("iteration", iter).
				With("stack", string(debug.Stack())).
				WithErr(err))
		}

		vu.mu.Lock()
		vu.groups = vu.groups[:0]
		vu.mu.Unlock()

		vu.recordIteration(start, err)
		if vu.buffer != nil {
			vu.buffer.Flush()
		}
		vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	}()

	return scenario(ctx, vu)
}

func (vu *VU) recordIteration(start time.Time, err error) {
	b := vu.env.Builtins
	if b == nil || vu.rec == nil {
		return
	}
	tags := metrics.Tags{"vu": strconv.Itoa(vu.id)}
	failed := 0.0
	if err != nil {
		failed = 1
	}
	vu.rec.Add(b.Iterations, 1, nil)
	vu.rec.Add(b.IterationDuration, msSince(start), nil)
	vu.rec.Add(b.IterationFailed, failed, tags)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

// RequestStop asks the VU to exit after its current iteration. It is safe
// to call more than once.
func (vu *VU) RequestStop() {
	for {
		s := vu.state.Load()
		if VUState(s) == VUStateStopping || VUState(s) == VUStateStopped {
			break
		}
		if vu.state.CompareAndSwap(s, int32(VUStateStopping)) {
			break
		}
	}
	vu.stopOnce.Do(func() { close(vu.stopCh) })
}

// Stopping reports whether the VU was asked to stop.
func (vu *VU) Stopping() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// Done is closed when the VU's goroutine has exited.
func (vu *VU) Done() <-chan struct{} {
	return vu.doneCh
}

func (vu *VU) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
