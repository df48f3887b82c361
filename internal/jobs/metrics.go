package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for postings and background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lines      *prometheus.CounterVec
	mismatches *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddLines counts journal lines written by outcome (created, updated, removed).
func (m *Metrics) AddLines(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.lines.WithLabelValues(outcome).Add(float64(count))
}

// SetMismatches records the latest integrity mismatch count for a ledger.
// An empty ledger means all ledgers.
func (m *Metrics) SetMismatches(ledger string, count int) {
	if m == nil {
		return
	}
	if ledger == "" {
		ledger = "all"
	}
	m.mismatches.WithLabelValues(ledger).Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stayledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stayledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stayledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stayledger_journal_lines_total",
		Help: "Journal lines written by accrual posting, by outcome.",
	}, []string{"outcome"})
	mismatches := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stayledger_accrual_mismatches",
		Help: "Records whose posted lines differ from their delta at the last integrity check.",
	}, []string{"ledger"})
	registerer.MustRegister(runs, failures, duration, lines, mismatches)
	return &Metrics{runs: runs, failures: failures, duration: duration, lines: lines, mismatches: mismatches}
}
