package metrics

import (
	"sync"
	"time"
)

// Recorder accepts samples. Both Buffer and Registry-backed recorders
// satisfy it.
type Recorder interface {
	Add(m *Metric, value float64, tags Tags)
}

// Buffer collects samples locally for one VU and hands them to the
// registry in batches, keeping the registry off the request path.
//
// The mutex is only contended when a scenario records from several
// goroutines of its own.
type Buffer struct {
	mu       sync.Mutex
	samples  []Sample
	registry *Registry
}

// NewBuffer creates a buffer that flushes into r.
func NewBuffer(r *Registry) *Buffer {
	return &Buffer{
		samples:  make([]Sample, 0, 64),
		registry: r,
	}
}

// Add appends a sample timestamped now.
func (b *Buffer) Add(m *Metric, value float64, tags Tags) {
	if m == nil {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, Sample{Metric: m, Value: value, Time: time.Now(), Tags: tags})
	b.mu.Unlock()
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Flush pushes all buffered samples to the registry and empties the buffer.
// Samples of one buffer reach the registry in the order they were added.
func (b *Buffer) Flush() {
	b.mu.Lock()
	pending := b.samples
	b.samples = make([]Sample, 0, cap(pending))
	b.mu.Unlock()

	if len(pending) > 0 {
		b.registry.Push(pending...)
	}
}

// Direct records straight into a registry; used outside of VUs (setup,
// teardown, scheduler gauges).
type Direct struct {
	Registry *Registry
}

// Add pushes one sample immediately.
func (d Direct) Add(m *Metric, value float64, tags Tags) {
	if m == nil {
		return
	}
	d.Registry.Push(Sample{Metric: m, Value: value, Time: time.Now(), Tags: tags})
}
