package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for pipeline and verification runs.
type Metrics struct {
	config MetricsConfig

	// Pipeline metrics
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec

	// Module metrics
	moduleRuns     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
	moduleSkipped  *prometheus.CounterVec

	// Verification metrics
	checkResults *prometheus.CounterVec
	successRate  prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	lastRun prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Every Record method is a no-op on this instance.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		moduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_runs_total",
				Help:      "Total number of module executions by status",
			},
			[]string{"module", "status"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_duration_seconds",
				Help:      "Duration of module execution in seconds",
				Buckets:   buckets,
			},
			[]string{"module"},
		),
		moduleSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_skipped_total",
				Help:      "Modules skipped because they had already completed",
			},
			[]string{"module"},
		),

		checkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_results_total",
				Help:      "Verification check results by category and status",
			},
			[]string{"category", "status"},
		),
		successRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "verification_success_percent",
				Help:      "Success percentage of the last verification pass",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of module errors by error class",
			},
			[]string{"class"},
		),

		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last pipeline run finished",
			},
		),
	}

	registry.MustRegister(
		m.pipelineRuns,
		m.pipelineDuration,
		m.moduleRuns,
		m.moduleDuration,
		m.moduleSkipped,
		m.checkResults,
		m.successRate,
		m.errorsByClass,
		m.lastRun,
	)

	return m, nil
}

// RecordPipeline records a finished pipeline run.
func (m *Metrics) RecordPipeline(outcome string, duration time.Duration) {
	if m.pipelineRuns == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
	m.pipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// RecordModule records a finished module execution.
func (m *Metrics) RecordModule(module, status string, duration time.Duration) {
	if m.moduleRuns == nil {
		return
	}
	m.moduleRuns.WithLabelValues(module, status).Inc()
	m.moduleDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// RecordModuleSkipped records a module skipped on resume.
func (m *Metrics) RecordModuleSkipped(module string) {
	if m.moduleSkipped == nil {
		return
	}
	m.moduleSkipped.WithLabelValues(module).Inc()
}

// RecordCheck records one verification check result.
func (m *Metrics) RecordCheck(category, status string) {
	if m.checkResults == nil {
		return
	}
	m.checkResults.WithLabelValues(category, status).Inc()
}

// SetSuccessRate sets the success percentage of the last verification.
func (m *Metrics) SetSuccessRate(percent int) {
	if m.successRate == nil {
		return
	}
	m.successRate.Set(float64(percent))
}

// RecordError records a module error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// WriteTextfile writes the registry to the configured textfile.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.Textfile), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
