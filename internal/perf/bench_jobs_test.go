package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/stayledger/internal/jobs"
	"github.com/odyssey-erp/stayledger/jobs"
)

func TestPostingJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Single-record postings finish fast and mostly succeed.
	for i := 0; i < 60; i++ {
		tracker := metrics.Track(jobs.TaskRecordChanged)
		time.Sleep(12 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending record tracker: %v", err)
		}
	}

	// Range re-posts are slower but stay inside the alert hold window.
	for i := 0; i < 15; i++ {
		tracker := metrics.Track(jobs.TaskPostRange)
		time.Sleep(40 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending range tracker: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		tracker := metrics.Track(jobs.TaskRecordChanged)
		time.Sleep(15 * time.Millisecond)
		if err := tracker.End(errors.New("timeout")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}
	metrics.AddLines("created", 120)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "stayledger_jobs_total", map[string]string{"job": jobs.TaskRecordChanged, "status": "success"})
	failure := metricValue(t, families, "stayledger_jobs_total", map[string]string{"job": jobs.TaskRecordChanged, "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no record postings recorded")
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("record posting success ratio too low: %f", ratio)
	}
	if lines := metricValue(t, families, "stayledger_journal_lines_total", map[string]string{"outcome": "created"}); lines != 120 {
		t.Fatalf("expected 120 created lines, got %f", lines)
	}

	if mean := histogramMean(t, families, "stayledger_job_duration_seconds", map[string]string{"job": jobs.TaskPostRange}); mean > 2.0 {
		t.Fatalf("range posting duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "stayledger_job_duration_seconds", map[string]string{"job": jobs.TaskRecordChanged}); mean > 0.5 {
		t.Fatalf("record posting duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
