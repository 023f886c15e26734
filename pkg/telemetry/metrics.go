package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/vminit/pkg/engine"
)

// Metrics holds the agent's Prometheus collectors in a private registry. A disabled
// instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	httpAttempts    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	backendAttempts *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		httpAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_attempts_total",
				Help:      "HTTP attempts against control-plane endpoints by outcome",
			},
			[]string{"service", "outcome"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_attempt_duration_seconds",
				Help:      "Duration of individual HTTP attempts",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		backendAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "backend_attempts_total",
				Help:      "Provisioning backend attempts by result",
			},
			[]string{"capability", "backend", "result"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "provisioning_runs_total",
				Help:      "Agent runs by result",
			},
			[]string{"result"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "provisioning_duration_seconds",
				Help:      "Wall time of agent runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
	}

	for _, c := range []prometheus.Collector{m.httpAttempts, m.httpDuration, m.backendAttempts, m.runs, m.runDuration} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Enabled reports whether metrics are recorded.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the private registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPAttempt implements retryhttp.Observer.
func (m *Metrics) HTTPAttempt(service, outcome string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.httpAttempts.WithLabelValues(service, outcome).Inc()
	m.httpDuration.WithLabelValues(service).Observe(d.Seconds())
}

// BackendAttempt implements engine.Observer.
func (m *Metrics) BackendAttempt(capability engine.Capability, backend string, _ time.Duration, err error) {
	if !m.Enabled() {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.backendAttempts.WithLabelValues(string(capability), backend, result).Inc()
}

// RecordRun counts a finished run. result is success, failure or skipped.
func (m *Metrics) RecordRun(result string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// WriteTextfile writes the registry in text exposition format to the configured path.
// The write is atomic so node-exporter never reads a partial file.
func (m *Metrics) WriteTextfile() error {
	if !m.Enabled() || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
