// Package metrics collects run counters and exports them in the Prometheus
// textfile format for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/tribuna/internal/model"
)

const namespace = "tribuna"

// Metrics holds one run's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	debates         *prometheus.CounterVec
	annotations     *prometheus.CounterVec
	diagnostics     *prometheus.CounterVec
	classifierCalls *prometheus.CounterVec
	compileDuration prometheus.Histogram
	lastRun         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		debates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debates_total",
			Help:      "Debates processed, by stage and result.",
		}, []string{"stage", "result"}),
		annotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_total",
			Help:      "Input annotations by layer and outcome (placed, skipped, unanchored).",
		}, []string{"kind", "outcome"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostics recorded, by code.",
		}, []string{"code"}),
		classifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_calls_total",
			Help:      "Sentence classifications by outcome.",
		}, []string{"outcome"}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Wall time to compile one debate.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the metrics file was written.",
		}),
	}
	m.registry.MustRegister(m.debates, m.annotations, m.diagnostics, m.classifierCalls, m.compileDuration, m.lastRun)
	return m
}

// Registry exposes the collectors, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveDebate records one debate's outcome for a stage.
func (m *Metrics) ObserveDebate(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.debates.WithLabelValues(stage, result).Inc()
}

// ObserveCompile records duration and per-layer accounting.
func (m *Metrics) ObserveCompile(d time.Duration, stats map[model.Kind]model.LayerStats) {
	m.compileDuration.Observe(d.Seconds())
	for kind, s := range stats {
		k := string(kind)
		m.annotations.WithLabelValues(k, "placed").Add(float64(s.Placed))
		m.annotations.WithLabelValues(k, "skipped").Add(float64(s.Skipped))
		m.annotations.WithLabelValues(k, "unanchored").Add(float64(s.Unanchored))
	}
}

func (m *Metrics) ObserveDiagnostics(diags []model.Diagnostic) {
	for _, d := range diags {
		m.diagnostics.WithLabelValues(string(d.Code)).Inc()
	}
}

// ObserveClassification counts one sentence outcome.
func (m *Metrics) ObserveClassification(outcome string) {
	m.classifierCalls.WithLabelValues(outcome).Inc()
}

// WriteTextfile atomically writes every metric to path.
func (m *Metrics) WriteTextfile(path string) error {
	m.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
