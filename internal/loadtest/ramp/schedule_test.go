package ramp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_TargetAt(t *testing.T) {
	rampThenHold := Schedule{Stages: []Stage{
		{Duration: 10 * time.Second, Target: 5},
		{Duration: 10 * time.Second, Target: 5},
	}}
	upDown := Schedule{Stages: []Stage{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	}}

	tests := []struct {
		name      string
		schedule  Schedule
		elapsed   time.Duration
		wantVUs   int
		wantStage int
		wantDone  bool
	}{
		{"start of ramp", rampThenHold, 0, 0, 0, false},
		{"middle of ramp rounds half up", rampThenHold, 5 * time.Second, 3, 0, false},
		{"just below one VU", rampThenHold, 1 * time.Second, 1, 0, false},
		{"stage boundary", rampThenHold, 10 * time.Second, 5, 1, false},
		{"holding", rampThenHold, 15 * time.Second, 5, 1, false},
		{"end of schedule", rampThenHold, 20 * time.Second, 0, 2, true},
		{"past the end", rampThenHold, time.Hour, 0, 2, true},
		{"negative elapsed", rampThenHold, -time.Second, 0, 0, false},
		{"continuous ramp down", upDown, 15 * time.Second, 5, 1, false},
		{"ramp down near end", upDown, 19 * time.Second, 1, 1, false},
		{"constant", Constant(3, 10*time.Second), 0, 3, 0, false},
		{"constant later", Constant(3, 10*time.Second), 9 * time.Second, 3, 0, false},
		{"from start VUs", Schedule{StartVUs: 10, Stages: []Stage{{Duration: 10 * time.Second, Target: 20}}}, 5 * time.Second, 15, 0, false},
		{"empty schedule", Schedule{}, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vus, stage, done := tt.schedule.TargetAt(tt.elapsed)
			assert.Equal(t, tt.wantVUs, vus, "target")
			assert.Equal(t, tt.wantStage, stage, "stage")
			assert.Equal(t, tt.wantDone, done, "done")
		})
	}
}

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, Schedule{}.Validate())
	assert.NoError(t, Constant(1, time.Second).Validate())

	err := Schedule{
		StartVUs: -1,
		Stages: []Stage{
			{Duration: 0, Target: 1},
			{Duration: time.Second, Target: -2},
		},
	}.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "startVUs")
		assert.Contains(t, err.Error(), "stages[0]: duration")
		assert.Contains(t, err.Error(), "stages[1]: target")
	}
}

func TestSchedule_Totals(t *testing.T) {
	s := Schedule{StartVUs: 2, Stages: []Stage{
		{Duration: 30 * time.Second, Target: 10},
		{Duration: 2 * time.Minute, Target: 50},
		{Duration: 30 * time.Second, Target: 0},
	}}
	assert.Equal(t, 3*time.Minute, s.TotalDuration())
	assert.Equal(t, 50, s.MaxTarget())

	prev, start := s.StageStart(2)
	assert.Equal(t, 50, prev)
	assert.Equal(t, 150*time.Second, start)

	prev, start = s.StageStart(0)
	assert.Equal(t, 2, prev)
	assert.Equal(t, time.Duration(0), start)
}
