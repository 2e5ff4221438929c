package metrics

import (
	"sync"
	"time"
)

// DefaultMaxBuckets keeps one hour of one-second buckets.
const DefaultMaxBuckets = 3600

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before the schedule starts.
	PhaseInit Phase = "init"

	// PhaseRampUp is the phase when the VU target is increasing.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the phase when the VU target is flat.
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the phase when the VU target is decreasing.
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the schedule has completed.
	PhaseDone Phase = "done"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// LatencyPercentiles holds request latency percentiles for a bucket.
type LatencyPercentiles struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// TimeBucket is one interval of the run's time series.
type TimeBucket struct {
	Timestamp         time.Time     `json:"timestamp"`
	TotalRequests     int64         `json:"totalRequests"`
	TotalFailures     int64         `json:"totalFailures"`
	TotalBytes        int64         `json:"totalBytes"`
	IntervalRequests  int64         `json:"intervalRequests"`
	IntervalRPS       float64       `json:"intervalRps"`
	IntervalErrorRate float64       `json:"intervalErrorRate"`
	LatencyP50        time.Duration `json:"latencyP50"`
	LatencyP90        time.Duration `json:"latencyP90"`
	LatencyP95        time.Duration `json:"latencyP95"`
	LatencyP99        time.Duration `json:"latencyP99"`
	LatencyMax        time.Duration `json:"latencyMax"`
	ActiveVUs         int           `json:"activeVUs"`
	Phase             Phase         `json:"phase"`
}

// BucketInput carries the cumulative totals a bucket is built from.
type BucketInput struct {
	TotalRequests int64
	TotalFailures int64
	TotalBytes    int64
	Latency       LatencyPercentiles
	ActiveVUs     int
	Phase         Phase
}

// TimeBucketStore stores time-bucketed metrics in a ring buffer.
//
// Interval values are derived from the difference between consecutive
// cumulative totals, so recording samples never touches the store.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int // Next write position
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime     time.Time
	lastBucketRequests int64
	lastBucketFailures int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// CreateBucket appends a bucket for the interval ending now.
func (tbs *TimeBucketStore) CreateBucket(in BucketInput) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalRequests := in.TotalRequests - tbs.lastBucketRequests
	intervalFailures := in.TotalFailures - tbs.lastBucketFailures

	intervalDuration := now.Sub(tbs.lastBucketTime).Seconds()
	if intervalDuration <= 0 {
		intervalDuration = 1.0
	}

	intervalErrorRate := 0.0
	if intervalRequests > 0 {
		intervalErrorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     in.TotalRequests,
		TotalFailures:     in.TotalFailures,
		TotalBytes:        in.TotalBytes,
		IntervalRequests:  intervalRequests,
		IntervalRPS:       float64(intervalRequests) / intervalDuration,
		IntervalErrorRate: intervalErrorRate,
		LatencyP50:        in.Latency.P50,
		LatencyP90:        in.Latency.P90,
		LatencyP95:        in.Latency.P95,
		LatencyP99:        in.Latency.P99,
		LatencyMax:        in.Latency.Max,
		ActiveVUs:         in.ActiveVUs,
		Phase:             in.Phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}

	tbs.lastBucketTime = now
	tbs.lastBucketRequests = in.TotalRequests
	tbs.lastBucketFailures = in.TotalFailures

	return bucket
}

// GetBuckets returns a copy of all buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	if tbs.count < tbs.maxBuckets {
		copy(result, tbs.buckets[:tbs.count])
	} else {
		for i := 0; i < tbs.count; i++ {
			result[i] = tbs.buckets[(tbs.head+i)%tbs.maxBuckets]
		}
	}
	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// Count returns the number of buckets stored.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}
