package control

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
)

const namespace = "rampvu"

var quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector exposes a run's metric registry and status to Prometheus.
// Metrics are read on every scrape; nothing is copied ahead of time.
type Collector struct {
	run Run

	state     *prometheus.Desc
	progress  *prometheus.Desc
	activeVUs *prometheus.Desc
	targetVUs *prometheus.Desc
	threshold *prometheus.Desc
}

// NewCollector creates a collector over run.
func NewCollector(run Run) *Collector {
	return &Collector{
		run: run,
		state: prometheus.NewDesc(namespace+"_run_state",
			"Lifecycle state of the run, 1 for the current state.", []string{"run_id", "state"}, nil),
		progress: prometheus.NewDesc(namespace+"_run_progress_ratio",
			"Schedule progress from 0 to 1.", []string{"run_id"}, nil),
		activeVUs: prometheus.NewDesc(namespace+"_active_vus",
			"Virtual users currently running iterations.", []string{"run_id"}, nil),
		targetVUs: prometheus.NewDesc(namespace+"_target_vus",
			"Virtual users the schedule currently asks for.", []string{"run_id"}, nil),
		threshold: prometheus.NewDesc(namespace+"_threshold_passed",
			"1 when the threshold currently passes.", []string{"run_id", "metric", "threshold"}, nil),
	}
}

// Describe sends nothing: the metric set depends on the run, which makes
// this an unchecked collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.run.Status()
	id := st.RunID

	for _, s := range []engine.State{engine.StateIdle, engine.StateSetup, engine.StateRunning, engine.StateTearingDown, engine.StateDone} {
		v := 0.0
		if s == st.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, id, s.String())
	}
	ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue, st.Progress, id)
	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(st.ActiveVUs), id)
	ch <- prometheus.MustNewConstMetric(c.targetVUs, prometheus.GaugeValue, float64(st.TargetVUs), id)

	// The same expression may be configured twice; its series is only
	// exported once.
	seen := make(map[[2]string]bool)
	for _, r := range c.run.Thresholds() {
		key := [2]string{r.Metric, r.Source}
		if seen[key] {
			continue
		}
		seen[key] = true
		v := 0.0
		if r.Passed {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.threshold, prometheus.GaugeValue, v, id, r.Metric, r.Source)
	}

	snaps := c.run.Snapshot()
	names := make([]string, 0, len(snaps))
	for name := range snaps {
		// Submetrics are covered by their parents' labels in PromQL.
		if !strings.ContainsRune(name, '{') {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		collectSnapshot(ch, snaps[name], id)
	}
}

func collectSnapshot(ch chan<- prometheus.Metric, s metrics.Snapshot, runID string) {
	labels := prometheus.Labels{"run_id": runID}
	switch s.Type {
	case metrics.Counter:
		desc := prometheus.NewDesc(promName(s, "_total"), "Counter "+s.Name+".", nil, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, scale(s, s.Sum))

	case metrics.Gauge:
		desc := prometheus.NewDesc(promName(s, ""), "Gauge "+s.Name+".", nil, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, scale(s, s.Value))

	case metrics.Rate:
		desc := prometheus.NewDesc(promName(s, "_ratio"), "Fraction of true samples of "+s.Name+".", nil, labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Rate)

	case metrics.Trend:
		qs := make(map[float64]float64, len(quantiles))
		for _, q := range quantiles {
			qs[q] = scale(s, s.Percentile(q*100))
		}
		desc := prometheus.NewDesc(promName(s, ""), "Distribution of "+s.Name+".", nil, labels)
		ch <- prometheus.MustNewConstSummary(desc, uint64(s.Count), scale(s, s.Sum), qs)
	}
}

// promName follows Prometheus base-unit naming: time in seconds, data in
// bytes.
func promName(s metrics.Snapshot, suffix string) string {
	name := namespace + "_" + s.Name
	switch s.Contains {
	case metrics.Time:
		name += "_seconds"
	case metrics.Data:
		name += "_bytes"
	}
	return name + suffix
}

func scale(s metrics.Snapshot, v float64) float64 {
	if s.Contains == metrics.Time {
		return v / 1000
	}
	return v
}
