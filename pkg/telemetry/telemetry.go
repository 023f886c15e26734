package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Telemetry bundles the logger, metrics and tracer built from one Config.
type Telemetry struct {
	Logger  *Logger
	Metrics *Metrics
	Tracer  *Tracer
	Config  *Config
}

// New validates cfg and builds every component.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	tracer, err := NewTracer(ctx, cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{Logger: logger, Metrics: metrics, Tracer: tracer, Config: cfg}, nil
}

// Shutdown writes the metrics textfile, flushes spans and closes the log output. Every
// step runs even if an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.Metrics.WriteTextfile(); err != nil {
		errs = append(errs, err)
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down tracer: %w", err))
	}
	if err := t.Logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log output: %w", err))
	}
	return errors.Join(errs...)
}
