package threshold

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
)

// scriptedSource returns a passing error rate until call number failAt,
// and a failing one from then on.
type scriptedSource struct {
	mu     sync.Mutex
	calls  int
	failAt int
	pass   metrics.Snapshot
	fail   metrics.Snapshot
}

func (s *scriptedSource) Snapshot(name string) (metrics.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt > 0 && s.calls >= s.failAt {
		return s.fail, true
	}
	return s.pass, true
}

func newScriptedSource(t *testing.T, failAt int) *scriptedSource {
	return &scriptedSource{
		failAt: failAt,
		pass:   rateSnapshot(t, 0, 100),
		fail:   rateSnapshot(t, 50, 100),
	}
}

func TestEvaluator_AbortsAtTickThree(t *testing.T) {
	src := newScriptedSource(t, 3)
	th := MustParse("http_req_failed", "rate<0.05")
	th.AbortOnFail = true

	rec := &observe.Recorder{}
	var aborts []Result
	var mu sync.Mutex
	e := NewEvaluator(Set{th}, src, Config{
		Interval: 5 * time.Millisecond,
		Observer: rec,
		OnAbort: func(r Result) {
			mu.Lock()
			aborts = append(aborts, r)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trigger, err := e.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, trigger)

	assert.Equal(t, 3, e.Ticks(), "abort fires right after the third evaluation")
	assert.True(t, trigger.Aborted)
	assert.False(t, trigger.Passed)
	assert.Equal(t, "rate<0.05", trigger.Source)

	mu.Lock()
	assert.Len(t, aborts, 1)
	mu.Unlock()

	by, ok := e.AbortedBy()
	assert.True(t, ok)
	assert.Equal(t, "http_req_failed", by.Metric)

	assert.Equal(t, 1, rec.Count(observe.EventAbort))
	assert.Equal(t, 1, rec.Count(observe.EventThresholdFail))

	// A later final evaluation still reports which threshold aborted.
	final := e.Evaluate()
	require.Len(t, final, 1)
	assert.True(t, final[0].Aborted)
}

func TestEvaluator_NoAbortWithoutFlag(t *testing.T) {
	src := newScriptedSource(t, 1)
	e := NewEvaluator(Set{MustParse("http_req_failed", "rate<0.05")}, src, Config{Interval: 2 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	trigger, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, trigger)
	assert.True(t, e.Ticks() > 1)

	results := e.Results()
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	_, aborted := e.AbortedBy()
	assert.False(t, aborted)
}

func TestEvaluator_DelayAbortEval(t *testing.T) {
	src := newScriptedSource(t, 1)
	th := MustParse("http_req_failed", "rate<0.05")
	th.AbortOnFail = true
	th.DelayAbortEval = 40 * time.Millisecond

	e := NewEvaluator(Set{th}, src, Config{Interval: 2 * time.Millisecond})

	start := time.Now()
	trigger, err := e.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.True(t, e.Ticks() > 1)
}

func TestEvaluator_EmptySetWaitsForContext(t *testing.T) {
	e := NewEvaluator(nil, newScriptedSource(t, 0), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trigger, err := e.Run(ctx)
	assert.Nil(t, trigger)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.Evaluate())
}

func TestEvaluator_EvaluateIsIdempotent(t *testing.T) {
	reg := metrics.NewRegistry()
	b := metrics.RegisterBuiltins(reg)
	for i := 0; i < 100; i++ {
		reg.Push(metrics.Sample{Metric: b.HTTPReqDuration, Value: float64(i)})
	}

	e := NewEvaluator(Set{MustParse("http_req_duration", "p(95)<90")}, reg, Config{})
	first := e.Evaluate()
	second := e.Evaluate()
	assert.Equal(t, first, second)
	assert.False(t, first[0].Passed)
}

func TestEvaluator_UnrecordedMetricDoesNotAbort(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.RegisterBuiltins(reg)
	th := MustParse("http_req_failed", "rate<0.05")
	th.AbortOnFail = true

	rec := &observe.Recorder{}
	e := NewEvaluator(Set{th}, reg, Config{Interval: 2 * time.Millisecond, Observer: rec})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	trigger, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, trigger)
	assert.Zero(t, rec.Count(observe.EventThresholdFail))
	assert.Zero(t, rec.Count(observe.EventAbort))

	final := e.Evaluate()
	require.Len(t, final, 1)
	assert.False(t, final[0].Passed)
	assert.True(t, final[0].NoSamples)
}
