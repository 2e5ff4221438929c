package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds every metric known to a run.
//
// # Thread Safety
//
// The metric table is guarded by an RWMutex that is only write-locked while
// metrics are being declared, which happens before VUs start. Pushing a
// sample takes the read lock nowhere: it goes straight to the metric's own
// sink, which has its own lock (or none, for rates).
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric

	startTime time.Time

	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange

	buckets *TimeBucketStore

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
}

// NewRegistry creates an empty registry. The elapsed clock starts now.
func NewRegistry() *Registry {
	return &Registry{
		metrics:      make(map[string]*Metric),
		startTime:    time.Now(),
		currentPhase: PhaseInit,
		buckets:      NewTimeBucketStore(DefaultMaxBuckets),
	}
}

// NewMetric declares a metric. Declaring an existing metric with the same
// type and value type returns the existing metric.
func (r *Registry) NewMetric(name string, t MetricType, contains ...ValueType) (*Metric, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("invalid metric name: %q", name)
	}

	vt := Default
	if len(contains) > 0 {
		vt = contains[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		if m.Type != t || m.Contains != vt {
			return nil, fmt.Errorf("metric %q already declared as %s(%s)", name, m.Type, m.Contains)
		}
		return m, nil
	}

	m := &Metric{Name: name, Type: t, Contains: vt, sink: newSink(t)}
	r.metrics[name] = m
	return m, nil
}

// MustNewMetric is like NewMetric but panics on error.
func (r *Registry) MustNewMetric(name string, t MetricType, contains ...ValueType) *Metric {
	m, err := r.NewMetric(name, t, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// AddSubmetric declares a submetric such as "http_req_duration{status:200}".
// Samples pushed to the parent are also added to the submetric when their
// tags contain the selector.
func (r *Registry) AddSubmetric(selector string) (*Metric, error) {
	name, tags, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		m := r.Get(name)
		if m == nil {
			return nil, fmt.Errorf("unknown metric: %q", name)
		}
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.metrics[name]
	if !ok {
		return nil, fmt.Errorf("unknown metric: %q", name)
	}

	key := name + tags.String()
	if m, ok := r.metrics[key]; ok {
		return m, nil
	}

	sub := &Metric{
		Name:     key,
		Type:     parent.Type,
		Contains: parent.Contains,
		Parent:   parent,
		Selector: tags,
		sink:     newSink(parent.Type),
	}
	parent.submetrics = append(parent.submetrics, sub)
	r.metrics[key] = sub
	return sub, nil
}

// Get returns the metric or submetric with the given name, or nil.
// Submetric names are normalised, so tag order does not matter.
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if ok {
		return m
	}

	base, tags, err := ParseSelector(name)
	if err != nil || tags == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[base+tags.String()]
}

// Metrics returns all metrics sorted by name.
func (r *Registry) Metrics() []*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Push records samples. Samples with a nil metric are ignored.
func (r *Registry) Push(samples ...Sample) {
	for i := range samples {
		s := &samples[i]
		if s.Metric == nil {
			continue
		}
		s.Metric.sink.add(s.Value)
		// submetrics is only appended to while metrics are being declared.
		for _, sub := range s.Metric.submetrics {
			if s.Tags.Contains(sub.Selector) {
				sub.sink.add(s.Value)
			}
		}
	}
}

// Snapshot returns a consistent view of the named metric.
func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	m := r.Get(name)
	if m == nil {
		return Snapshot{}, false
	}
	return r.snapshotOf(m), true
}

// Snapshots returns a view of every metric, keyed by name.
func (r *Registry) Snapshots() map[string]Snapshot {
	ms := r.Metrics()
	out := make(map[string]Snapshot, len(ms))
	for _, m := range ms {
		out[m.Name] = r.snapshotOf(m)
	}
	return out
}

func (r *Registry) snapshotOf(m *Metric) Snapshot {
	s := Snapshot{
		Name:      m.Name,
		Type:      m.Type,
		Contains:  m.Contains,
		Elapsed:   r.Elapsed(),
		Timestamp: time.Now(),
	}
	m.sink.snapshot(&s)
	return s
}

// Elapsed returns the time since the registry was created or last Reset.
func (r *Registry) Elapsed() time.Duration {
	r.phaseMu.RLock()
	defer r.phaseMu.RUnlock()
	return time.Since(r.startTime)
}

// StartTime returns when the registry clock started.
func (r *Registry) StartTime() time.Time {
	r.phaseMu.RLock()
	defer r.phaseMu.RUnlock()
	return r.startTime
}

// ResetClock restarts the elapsed clock. Counter rates are computed
// against this clock.
func (r *Registry) ResetClock() {
	r.phaseMu.Lock()
	r.startTime = time.Now()
	r.phaseMu.Unlock()
}

// SetPhase records a phase transition. Setting the current phase again is a no-op.
func (r *Registry) SetPhase(phase Phase) {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()

	if r.currentPhase == phase {
		return
	}
	r.currentPhase = phase
	r.phaseHistory = append(r.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
	})
}

// Phase returns the current phase.
func (r *Registry) Phase() Phase {
	r.phaseMu.RLock()
	defer r.phaseMu.RUnlock()
	return r.currentPhase
}

// PhaseHistory returns a copy of the recorded phase transitions.
func (r *Registry) PhaseHistory() []PhaseChange {
	r.phaseMu.RLock()
	defer r.phaseMu.RUnlock()

	out := make([]PhaseChange, len(r.phaseHistory))
	copy(out, r.phaseHistory)
	return out
}

// StartTimeSeries starts a background emitter that appends a TimeBucket
// every interval until StopTimeSeries is called.
func (r *Registry) StartTimeSeries(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.emitterCancel = cancel

	r.emitterWg.Add(1)
	go func() {
		defer r.emitterWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EmitBucket()
			}
		}
	}()
}

// StopTimeSeries stops the emitter and records a final bucket.
func (r *Registry) StopTimeSeries() {
	if r.emitterCancel == nil {
		return
	}
	r.emitterCancel()
	r.emitterWg.Wait()
	r.emitterCancel = nil
	r.EmitBucket()
}

// EmitBucket appends a bucket built from the built-in HTTP and VU metrics.
func (r *Registry) EmitBucket() *TimeBucket {
	var in BucketInput
	if s, ok := r.Snapshot(HTTPReqsName); ok {
		in.TotalRequests = int64(s.Sum)
	}
	if s, ok := r.Snapshot(HTTPReqFailedName); ok {
		in.TotalFailures = s.Passes
	}
	if s, ok := r.Snapshot(DataReceivedName); ok {
		in.TotalBytes = int64(s.Sum)
	}
	if s, ok := r.Snapshot(HTTPReqDurationName); ok {
		in.Latency = LatencyPercentiles{
			Min: Duration(s.Min),
			Max: Duration(s.Max),
			P50: Duration(s.Med),
			P90: Duration(s.P90),
			P95: Duration(s.P95),
			P99: Duration(s.P99),
		}
	}
	if s, ok := r.Snapshot(VUsName); ok {
		in.ActiveVUs = int(s.Value)
	}
	in.Phase = r.Phase()

	return r.buckets.CreateBucket(in)
}

// TimeSeries returns the recorded buckets in chronological order.
func (r *Registry) TimeSeries() []*TimeBucket {
	return r.buckets.GetBuckets()
}
