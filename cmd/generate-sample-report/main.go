// Command generate-sample-report writes an HTML report built from
// synthetic samples, for checking the report layout without a target.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/report"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	sink := report.HTMLFile{
		Path:        outputPath,
		Description: "Messages API ramping to 10 VUs",
	}
	if err := sink.Flush(context.Background(), sampleVerdict(120)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

func sampleVerdict(seconds int) *engine.Verdict {
	rng := rand.New(rand.NewPCG(1, 2))
	reg := metrics.NewRegistry()
	b := metrics.RegisterBuiltins(reg)
	rec := metrics.Direct{Registry: reg}

	end := time.Now()
	start := end.Add(-time.Duration(seconds) * time.Second)
	buckets := make([]*metrics.TimeBucket, 0, seconds)

	var total, failures int64
	for i := 0; i < seconds; i++ {
		vus, phase := profile(i, seconds)
		rec.Add(b.VUs, float64(vus), nil)

		n := vus * 5
		var interval []float64
		for j := 0; j < n; j++ {
			latency := 30 + rng.ExpFloat64()*25
			failed := 0.0
			if rng.Float64() < 0.01 {
				failed = 1
				failures++
			}
			rec.Add(b.HTTPReqs, 1, nil)
			rec.Add(b.HTTPReqDuration, latency, nil)
			rec.Add(b.HTTPReqFailed, failed, nil)
			rec.Add(b.Checks, 1-failed, nil)
			rec.Add(b.DataReceived, 2048, nil)
			interval = append(interval, latency)
		}
		rec.Add(b.Iterations, float64(n), nil)
		total += int64(n)

		buckets = append(buckets, &metrics.TimeBucket{
			Timestamp:         start.Add(time.Duration(i) * time.Second),
			TotalRequests:     total,
			TotalFailures:     failures,
			IntervalRequests:  int64(n),
			IntervalRPS:       float64(n),
			IntervalErrorRate: 0.01,
			LatencyP50:        metrics.Duration(percentile(interval, 0.50)),
			LatencyP95:        metrics.Duration(percentile(interval, 0.95)),
			LatencyP99:        metrics.Duration(percentile(interval, 0.99)),
			ActiveVUs:         vus,
			Phase:             phase,
		})
	}

	snaps := reg.Snapshots()
	set := threshold.Set{
		threshold.MustParse(metrics.HTTPReqDurationName, "p(95)<200"),
		threshold.MustParse(metrics.HTTPReqDurationName, "p(99)<500"),
		threshold.MustParse(metrics.HTTPReqFailedName, "rate<0.02"),
		threshold.MustParse(metrics.ChecksName, "rate>0.95"),
	}
	results := set.EvaluateSnapshots(snaps)

	return &engine.Verdict{
		RunID:      "00000000-sample",
		Name:       "Messages API load test",
		Passed:     threshold.Passed(results),
		Results:    results,
		Failed:     threshold.Failed(results),
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		Metrics:    snaps,
		TimeSeries: buckets,
	}
}

// profile ramps up over the first sixth, holds, and ramps down over the
// last sixth.
func profile(i, seconds int) (int, metrics.Phase) {
	ramp := seconds / 6
	switch {
	case i < ramp:
		return max(1, 10*i/ramp), metrics.PhaseRampUp
	case i < seconds-ramp:
		return 10, metrics.PhaseSteady
	default:
		return max(1, 10*(seconds-i)/ramp), metrics.PhaseRampDown
	}
}

func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted[int(q*float64(len(sorted)-1))]
}
