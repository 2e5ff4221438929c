// Package ramp turns a stage schedule into a VU target that changes over
// time, and drives a pool towards it.
package ramp

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Stage is one segment of a schedule: over Duration, the VU target moves
// linearly from the previous stage's target to Target.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
	Name     string        `json:"name,omitempty"`
}

// Schedule is an ordered list of stages.
//
// Interpolation is continuous: each stage ramps from the target of the
// stage before it. The first stage ramps from StartVUs, which defaults to
// 0. A constant load of n VUs is Schedule{StartVUs: n, Stages: {{d, n}}}.
type Schedule struct {
	StartVUs int     `json:"startVUs,omitempty"`
	Stages   []Stage `json:"stages"`
}

// Constant returns a schedule holding vus VUs for d.
func Constant(vus int, d time.Duration) Schedule {
	return Schedule{
		StartVUs: vus,
		Stages:   []Stage{{Duration: d, Target: vus}},
	}
}

// Validate checks that every stage has a positive duration and a
// non-negative target. An empty schedule is valid and completes at once.
func (s Schedule) Validate() error {
	var errs []error
	if s.StartVUs < 0 {
		errs = append(errs, fmt.Errorf("startVUs must be >= 0, got %d", s.StartVUs))
	}
	for i, st := range s.Stages {
		if st.Duration <= 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: duration must be > 0, got %s", i, st.Duration))
		}
		if st.Target < 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: target must be >= 0, got %d", i, st.Target))
		}
	}
	return errors.Join(errs...)
}

// TotalDuration returns the sum of the stage durations.
func (s Schedule) TotalDuration() time.Duration {
	var total time.Duration
	for _, st := range s.Stages {
		total += st.Duration
	}
	return total
}

// MaxTarget returns the highest VU count the schedule asks for.
func (s Schedule) MaxTarget() int {
	highest := s.StartVUs
	for _, st := range s.Stages {
		if st.Target > highest {
			highest = st.Target
		}
	}
	return highest
}

// StageStart returns the previous target and the start offset of stage i.
func (s Schedule) StageStart(i int) (prevTarget int, start time.Duration) {
	prevTarget = s.StartVUs
	for j := 0; j < i && j < len(s.Stages); j++ {
		start += s.Stages[j].Duration
		prevTarget = s.Stages[j].Target
	}
	return prevTarget, start
}

// TargetAt returns the desired VU count at elapsed, rounded to the nearest
// integer, and the index of the stage containing elapsed. Once the
// schedule is over it returns (0, len(Stages), true).
func (s Schedule) TargetAt(elapsed time.Duration) (target int, stage int, done bool) {
	if elapsed < 0 {
		elapsed = 0
	}

	prev := s.StartVUs
	var stageStart time.Duration
	for i, st := range s.Stages {
		stageEnd := stageStart + st.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(st.Duration)
			v := float64(prev) + float64(st.Target-prev)*progress
			return int(math.Round(v)), i, false
		}
		prev = st.Target
		stageStart = stageEnd
	}
	return 0, len(s.Stages), true
}
