package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func entry(id, name string, offset time.Duration) Entry {
	return Entry{RunID: id, Name: name, StartTime: base.Add(offset), Duration: time.Minute, Passed: true}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Save(entry("b", "api", 2*time.Hour)))
	require.NoError(t, s.Save(entry("a", "api", time.Hour)))
	require.NoError(t, s.Save(entry("c", "web", 3*time.Hour)))

	all, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].RunID, all[1].RunID, all[2].RunID})

	api, err := s.List("api", 0)
	require.NoError(t, err)
	assert.Len(t, api, 2)

	limited, err := s.List("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].RunID)
}

func TestStore_SaveReplacesSameRun(t *testing.T) {
	s := openStore(t)

	e := entry("run-1", "api", 0)
	require.NoError(t, s.Save(e))

	e.Passed = false
	e.StartTime = e.StartTime.Add(time.Minute)
	require.NoError(t, s.Save(e))

	all, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Passed)

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.False(t, got.Passed)
}

func TestStore_GetAndDelete(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Save(entry("run-1", "api", 0)))

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete("run-1"))
	_, err = s.Get("run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("run-1"), ErrNotFound)
}

func TestStore_Prune(t *testing.T) {
	s := openStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(entry(fmt.Sprintf("run-%d", i), "api", time.Duration(i)*time.Minute)))
	}

	deleted, err := s.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	all, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-4", all[0].RunID)
	assert.Equal(t, "run-3", all[1].RunID)

	_, err = s.Get("run-0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveRequiresRunID(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(Entry{Name: "x", StartTime: base}))
}

func TestStore_FlushSummarisesVerdict(t *testing.T) {
	r := metrics.NewRegistry()
	b := metrics.RegisterBuiltins(r)
	d := metrics.Direct{Registry: r}
	for i := 0; i < 4; i++ {
		d.Add(b.HTTPReqs, 1, nil)
		d.Add(b.HTTPReqDuration, 100, nil)
		d.Add(b.HTTPReqFailed, float64(i%2), nil)
		d.Add(b.Iterations, 1, nil)
	}

	v := &engine.Verdict{
		RunID:     "run-42",
		Name:      "checkout",
		StartTime: base,
		Duration:  30 * time.Second,
		Passed:    false,
		Metrics:   r.Snapshots(),
		Results:   []threshold.Result{{Metric: "http_req_failed", Source: "rate<0.1", Passed: false, Actual: 0.5}},
	}

	s := openStore(t)
	var sink engine.Sink = s
	require.NoError(t, sink.Flush(context.Background(), v))

	got, err := s.Get("run-42")
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Name)
	assert.Equal(t, int64(4), got.Requests)
	assert.Equal(t, int64(4), got.Iterations)
	assert.InDelta(t, 0.5, got.ErrorRate, 1e-9)
	assert.InDelta(t, 100, got.LatencyAvgMs, 1e-9)
	assert.True(t, base.Equal(got.StartTime))
	require.Len(t, got.Thresholds, 1)
	assert.False(t, got.Thresholds[0].Passed)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(entry("run-1", "api", 0)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "api", got.Name)
}
