// Package metrics exposes run statistics in the Prometheus text format, for
// scraping by node_exporter's textfile collector after a CLI run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "snapkeep"

// Collector is a prometheus.Collector for snapshot and consolidation runs.
// A nil *Collector records nothing.
type Collector struct {
	snapshots        *prometheus.CounterVec
	snapshotFiles    prometheus.Counter
	snapshotBytes    prometheus.Counter
	snapshotDuration *prometheus.HistogramVec
	consolidated     *prometheus.CounterVec
	lastSuccess      prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "snapshots_total",
				Help:      "Snapshot runs by kind and final status.",
			}, []string{"kind", "status"},
		),
		snapshotFiles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "snapshot_files_total",
				Help:      "Files written into snapshots.",
			},
		),
		snapshotBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "snapshot_bytes_total",
				Help:      "Uncompressed bytes written into snapshots.",
			},
		),
		snapshotDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "snapshot_duration_seconds",
				Help:      "Wall time of a snapshot run.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			}, []string{"kind"},
		),
		consolidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "consolidate_files_total",
				Help:      "Files touched by consolidation, by step.",
			}, []string{"step"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful snapshot.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.snapshots.Describe(ch)
	c.snapshotFiles.Describe(ch)
	c.snapshotBytes.Describe(ch)
	c.snapshotDuration.Describe(ch)
	c.consolidated.Describe(ch)
	c.lastSuccess.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.snapshots.Collect(ch)
	c.snapshotFiles.Collect(ch)
	c.snapshotBytes.Collect(ch)
	c.snapshotDuration.Collect(ch)
	c.consolidated.Collect(ch)
	c.lastSuccess.Collect(ch)
}

// SnapshotFinished records one snapshot run. files and bytes count only
// toward successful runs.
func (c *Collector) SnapshotFinished(kind, status string, files int, bytes int64, took time.Duration, at time.Time) {
	if c == nil {
		return
	}
	c.snapshots.WithLabelValues(kind, status).Inc()
	c.snapshotDuration.WithLabelValues(kind).Observe(took.Seconds())
	if status != "completed" {
		return
	}
	c.snapshotFiles.Add(float64(files))
	c.snapshotBytes.Add(float64(bytes))
	c.lastSuccess.Set(float64(at.Unix()))
}

// Consolidated records n files handled by a consolidation step
// ("organized", "deduplicated", "cleaned").
func (c *Collector) Consolidated(step string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.consolidated.WithLabelValues(step).Add(float64(n))
}

// WriteTextfile atomically writes every metric to path.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile %q: %w", path, err)
	}
	return nil
}
