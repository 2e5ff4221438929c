package ramp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
)

// DefaultTick is how often the target is recomputed.
const DefaultTick = 100 * time.Millisecond

// Target is what the scheduler drives; *loadtest.Pool satisfies it.
type Target interface {
	SetTarget(n int) int
	Wait(ctx context.Context) error
}

// PhaseSetter receives phase changes; *metrics.Registry satisfies it.
type PhaseSetter interface {
	SetPhase(metrics.Phase)
}

// Tick describes one scheduler step.
type Tick struct {
	Elapsed  time.Duration
	Stage    int
	Desired  int
	Achieved int
	Phase    metrics.Phase
}

// Config configures a Scheduler.
type Config struct {
	Schedule Schedule

	// Tick defaults to DefaultTick.
	Tick time.Duration

	// Phases, if set, is told about ramp-up, steady and ramp-down phases.
	Phases PhaseSetter

	Observer observe.Observer

	// OnTick, if set, is called after every step from the scheduler goroutine.
	OnTick func(Tick)
}

// Scheduler recomputes the desired VU count every tick by interpolating
// the schedule, and pushes it to the target.
type Scheduler struct {
	cfg    Config
	target Target

	mu        sync.RWMutex
	startTime time.Time
	finished  bool

	currentStage atomic.Int32
	desired      atomic.Int32

	now func() time.Time
}

// NewScheduler creates a scheduler driving target.
func NewScheduler(cfg Config, target Target) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Observer == nil {
		cfg.Observer = observe.Nop
	}
	s := &Scheduler{
		cfg:    cfg,
		target: target,
		now:    time.Now,
	}
	s.currentStage.Store(-1)
	return s
}

// Run drives the target through the whole schedule, then sets the target
// to 0 and waits for it to drain. It returns early with ctx.Err() when ctx
// is cancelled; the caller then owns stopping the target.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.cfg.Schedule.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.startTime = s.now()
	s.finished = false
	s.mu.Unlock()

	if s.cfg.Schedule.TotalDuration() > 0 {
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()

		for !s.step() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	s.finish()
	return s.target.Wait(ctx)
}

// step applies the target for the current instant and reports whether the
// schedule is over.
func (s *Scheduler) step() bool {
	elapsed := s.Elapsed()
	desired, stage, done := s.cfg.Schedule.TargetAt(elapsed)
	if done {
		return true
	}

	if prev := int(s.currentStage.Swap(int32(stage))); prev != stage {
		st := s.cfg.Schedule.Stages[stage]
		s.cfg.Observer.Observe(observe.NewEvent(observe.EventStageStarted, "stage started").
			With("stage", stage).
			With("name", st.Name).
			With("target", st.Target).
			With("duration", st.Duration.String()))
	}

	achieved := s.target.SetTarget(desired)
	if old := int(s.desired.Swap(int32(achieved))); old != achieved {
		s.cfg.Observer.Observe(observe.NewEvent(observe.EventTargetChanged, "").
			With("from", old).
			With("to", achieved).
			With("desired", desired))
	}

	phase := s.phaseOf(stage)
	if s.cfg.Phases != nil {
		s.cfg.Phases.SetPhase(phase)
	}

	if s.cfg.OnTick != nil {
		s.cfg.OnTick(Tick{
			Elapsed:  elapsed,
			Stage:    stage,
			Desired:  desired,
			Achieved: achieved,
			Phase:    phase,
		})
	}
	return false
}

func (s *Scheduler) finish() {
	s.target.SetTarget(0)
	s.desired.Store(0)
	s.currentStage.Store(int32(len(s.cfg.Schedule.Stages)))
	if s.cfg.Phases != nil {
		s.cfg.Phases.SetPhase(metrics.PhaseDone)
	}

	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func (s *Scheduler) phaseOf(stage int) metrics.Phase {
	prev, _ := s.cfg.Schedule.StageStart(stage)
	target := s.cfg.Schedule.Stages[stage].Target
	switch {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// Elapsed returns the time since Run started, or 0 before that.
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return s.now().Sub(s.startTime)
}

// Progress returns how far through the schedule the run is, from 0 to 1.
func (s *Scheduler) Progress() float64 {
	s.mu.RLock()
	started, finished := !s.startTime.IsZero(), s.finished
	s.mu.RUnlock()

	switch {
	case finished:
		return 1
	case !started:
		return 0
	}

	total := s.cfg.Schedule.TotalDuration()
	if total <= 0 {
		return 1
	}
	p := float64(s.Elapsed()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// CurrentStage returns the index of the running stage, -1 before the
// first tick and len(Stages) once the schedule is over.
func (s *Scheduler) CurrentStage() int {
	return int(s.currentStage.Load())
}

// Desired returns the last target pushed to the pool.
func (s *Scheduler) Desired() int {
	return int(s.desired.Load())
}

// Schedule returns the schedule being run.
func (s *Scheduler) Schedule() Schedule {
	return s.cfg.Schedule
}
