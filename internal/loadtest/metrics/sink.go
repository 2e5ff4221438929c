package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Trend values are stored in the histogram with three decimal places of
// precision: 1.5ms is recorded as 1500.
const (
	trendScale    = 1000.0
	trendHistMin  = 1
	trendHistMax  = 3600000000 // 1 hour of milliseconds at trendScale
	trendSigFigs  = 3
	defaultPctP90 = 90
	defaultPctP95 = 95
	defaultPctP99 = 99
)

type sink interface {
	add(value float64)
	snapshot(s *Snapshot)
}

func newSink(t MetricType) sink {
	switch t {
	case Counter:
		return &counterSink{}
	case Gauge:
		return &gaugeSink{}
	case Rate:
		return &rateSink{}
	default:
		return newTrendSink()
	}
}

type counterSink struct {
	mu    sync.Mutex
	sum   float64
	count int64
	first time.Time
}

func (c *counterSink) add(v float64) {
	c.mu.Lock()
	if c.count == 0 {
		c.first = time.Now()
	}
	c.sum += v
	c.count++
	c.mu.Unlock()
}

func (c *counterSink) snapshot(s *Snapshot) {
	c.mu.Lock()
	s.Sum = c.sum
	s.Count = c.count
	c.mu.Unlock()

	s.Value = s.Sum
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Rate = s.Sum / secs
	}
}

type gaugeSink struct {
	mu    sync.Mutex
	last  float64
	min   float64
	max   float64
	count int64
}

func (g *gaugeSink) add(v float64) {
	g.mu.Lock()
	if g.count == 0 || v < g.min {
		g.min = v
	}
	if g.count == 0 || v > g.max {
		g.max = v
	}
	g.last = v
	g.count++
	g.mu.Unlock()
}

func (g *gaugeSink) snapshot(s *Snapshot) {
	g.mu.Lock()
	s.Value = g.last
	s.Min = g.min
	s.Max = g.max
	s.Count = g.count
	g.mu.Unlock()
}

// rateSink is lock-free; it only ever increments two counters.
type rateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *rateSink) add(v float64) {
	if v != 0 {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

func (r *rateSink) snapshot(s *Snapshot) {
	// Read total first so that passes can never exceed it.
	total := r.total.Load()
	trues := r.trues.Load()
	if trues > total {
		trues = total
	}
	s.Count = total
	s.Passes = trues
	s.Fails = total - trues
	if total > 0 {
		s.Rate = float64(trues) / float64(total)
	}
	s.Value = s.Rate
}

// trendSink keeps the full distribution in an HDR histogram.
// NOTE: hdrhistogram is not safe for concurrent use, hence the mutex.
type trendSink struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	sum   float64
	min   float64
	max   float64
	count int64
}

func newTrendSink() *trendSink {
	return &trendSink{
		hist: hdrhistogram.New(trendHistMin, trendHistMax, trendSigFigs),
	}
}

func (t *trendSink) add(v float64) {
	scaled := int64(math.Round(v * trendScale))
	if scaled < 0 {
		scaled = 0
	}
	if scaled > trendHistMax {
		scaled = trendHistMax
	}

	t.mu.Lock()
	_ = t.hist.RecordValue(scaled)
	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.sum += v
	t.count++
	t.mu.Unlock()
}

func (t *trendSink) snapshot(s *Snapshot) {
	t.mu.Lock()
	s.Count = t.count
	s.Sum = t.sum
	s.Min = t.min
	s.Max = t.max
	s.hist = hdrhistogram.Import(t.hist.Export())
	t.mu.Unlock()

	if s.Count > 0 {
		s.Avg = s.Sum / float64(s.Count)
	}
	s.Med = s.Percentile(50)
	s.P90 = s.Percentile(defaultPctP90)
	s.P95 = s.Percentile(defaultPctP95)
	s.P99 = s.Percentile(defaultPctP99)
}
