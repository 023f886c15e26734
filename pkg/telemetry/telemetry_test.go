package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/vminit/pkg/engine"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp" }},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }},
		{"metrics without path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.TextfilePath = "" }},
		{"no service name", func(c *Config) { c.ServiceName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggerComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"})

	log := l.Component("ledger")
	log.Debug().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"component":"ledger"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, LoggingConfig{Level: "warn", Format: "json"})

	z := l.Zerolog()
	z.Info().Msg("quiet")
	z.Warn().Msg("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vminit.log")
	l, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	z := l.Zerolog()
	z.Info().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	m.HTTPAttempt("imds", "success", time.Millisecond)
	m.BackendAttempt(engine.CapabilityUser, "useradd", time.Millisecond, nil)
	m.RecordRun("success", time.Second)
	assert.NoError(t, m.WriteTextfile())
}

func TestMetricsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector", "vminit.prom")
	m, err := NewMetrics(MetricsConfig{Enabled: true, TextfilePath: path, Namespace: "vminit"})
	require.NoError(t, err)

	m.HTTPAttempt("imds", "retry", 10*time.Millisecond)
	m.HTTPAttempt("imds", "success", 10*time.Millisecond)
	m.BackendAttempt(engine.CapabilityUser, "useradd", time.Millisecond, errors.New("exit 9"))
	m.BackendAttempt(engine.CapabilityUser, "adduser", time.Millisecond, nil)
	m.RecordRun("success", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpAttempts.WithLabelValues("imds", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendAttempts.WithLabelValues("user", "useradd", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))

	require.NoError(t, m.WriteTextfile())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `vminit_http_attempts_total{outcome="success",service="imds"} 1`), text)
	assert.Contains(t, text, `vminit_backend_attempts_total{backend="adduser",capability="user",result="success"} 1`)
	assert.Contains(t, text, "vminit_provisioning_duration_seconds_count 1")
}

func TestTracerNone(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracingConfig{Exporter: "none"}, "vminit", "dev")
	require.NoError(t, err)

	_, span := tr.Tracer().Start(context.Background(), "provision.run", trace.WithAttributes(AttrVMID.String("vm")))
	End(span, errors.New("boom"))
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracerStdout(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracingConfig{
		Exporter:      "stdout",
		SamplingRate:  1,
		ExportTimeout: time.Second,
	}, "vminit", "dev")
	require.NoError(t, err)

	ctx, span := tr.Tracer().Start(context.Background(), "provision.run")
	assert.True(t, span.SpanContext().IsValid())
	_, child := tr.Tracer().Start(ctx, "provision.imds")
	End(child, nil)
	End(span, nil)
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracerUnsupported(t *testing.T) {
	_, err := NewTracer(context.Background(), TracingConfig{Exporter: "zipkin"}, "vminit", "dev")
	assert.Error(t, err)
}

func TestNewAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "agent.log")
	cfg.Metrics.Enabled = true
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "vminit.prom")

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	tel.Metrics.RecordRun("skipped", time.Millisecond)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.FileExists(t, cfg.Metrics.TextfilePath)
}
