package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openfroyo/vminit/pkg/engine"
	"github.com/openfroyo/vminit/pkg/imds"
	"github.com/openfroyo/vminit/pkg/stores"
	"github.com/openfroyo/vminit/pkg/telemetry"
	"github.com/openfroyo/vminit/pkg/wireserver"
)

// ErrAlreadyRan is returned by a second call to Run on the same Agent.
var ErrAlreadyRan = errors.New("agent has already run")

// Run results recorded in metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Ledger records completed provisioning per VM identity.
type Ledger interface {
	Identity() (string, bool)
	IsComplete() bool
	MarkComplete() error
}

// ControlPlane fetches the goalstate and acknowledges it.
type ControlPlane interface {
	FetchGoalstate(ctx context.Context) (*wireserver.Goalstate, error)
	ReportHealth(ctx context.Context, gs *wireserver.Goalstate) error
}

// StatusReporter posts provisioning-health reports.
type StatusReporter interface {
	ReportReady(ctx context.Context, vmID string, extra map[string]string) error
	ReportFailure(ctx context.Context, cause error, vmID string) error
	ReportInProgress(ctx context.Context, vmID string) error
}

// MetadataSource returns the instance metadata.
type MetadataSource interface {
	Query(ctx context.Context) (*imds.InstanceMetadata, error)
}

// PolicyChecker vets a spec before the host is touched.
type PolicyChecker interface {
	Check(ctx context.Context, spec *engine.ProvisioningSpec) error
}

// PasswordAuthConfigurer toggles sshd password authentication.
type PasswordAuthConfigurer interface {
	SetPasswordAuthentication(enabled bool) error
}

// RunJournal keeps a history of runs and backend attempts.
type RunJournal interface {
	StartRun(ctx context.Context, vmID string) (*stores.Run, error)
	FinishRun(ctx context.Context, id string, status stores.RunStatus, runErr error) error
	Observer(ctx context.Context, runID string) engine.Observer
}

// FactsSource describes the guest OS for the Ready report.
type FactsSource interface {
	Collect() *engine.OSFacts
}

// RunMetrics counts backend attempts and finished runs.
type RunMetrics interface {
	engine.Observer
	RecordRun(result string, d time.Duration)
}

// Deps are the agent's collaborators. Policy, UserLookup, SSHD, Facts, Journal, Metrics
// and Tracer are optional.
type Deps struct {
	Ledger       Ledger
	Wireserver   ControlPlane
	Reporter     StatusReporter
	Metadata     MetadataSource
	Backends     engine.Backends
	KeyInstaller engine.KeyInstaller

	Policy     PolicyChecker
	UserLookup engine.UserLookup
	SSHD       PasswordAuthConfigurer
	Facts      FactsSource
	Journal    RunJournal
	Metrics    RunMetrics
	Tracer     trace.Tracer
}

// Options tune a run.
type Options struct {
	// Groups override the default supplementary groups of the provisioned user.
	Groups []string
}

// Agent performs one provisioning run per process.
type Agent struct {
	deps   Deps
	opts   Options
	ran    atomic.Bool
	logger zerolog.Logger
}

// New creates an agent.
func New(deps Deps, opts Options, logger zerolog.Logger) *Agent {
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("vminit")
	}
	return &Agent{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "agent").Logger(),
	}
}

// Run provisions the host unless the ledger says this VM is already done. On failure the
// control plane is told best effort and no marker is written. Reporting trouble after a
// successful provision never undoes the marker.
func (a *Agent) Run(ctx context.Context) error {
	if !a.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRan
	}

	start := time.Now()
	vmID, _ := a.deps.Ledger.Identity()

	ctx, span := a.deps.Tracer.Start(ctx, "provision.run", trace.WithAttributes(telemetry.AttrVMID.String(vmID)))

	run := a.startRun(ctx, vmID)
	if run != nil {
		span.SetAttributes(telemetry.AttrRunID.String(run.ID))
	}

	if a.deps.Ledger.IsComplete() {
		a.logger.Info().Str("vm_id", vmID).Msg("VM already provisioned, nothing to do")
		a.finish(ctx, run, stores.RunStatusSkipped, ResultSkipped, start, nil)
		span.SetAttributes(attribute.String("provision.result", ResultSkipped))
		telemetry.End(span, nil)
		return nil
	}

	if err := a.provision(ctx, vmID, run); err != nil {
		a.logger.Error().Err(err).Str("kind", string(engine.KindOf(err))).Msg("Provisioning failed")
		if reportErr := a.deps.Reporter.ReportFailure(ctx, err, vmID); reportErr != nil {
			a.logger.Error().Err(reportErr).Msg("Failed to report provisioning failure")
		}
		a.finish(ctx, run, stores.RunStatusFailed, ResultFailure, start, err)
		span.SetAttributes(telemetry.AttrErrorKind.String(string(engine.KindOf(err))))
		telemetry.End(span, err)
		return err
	}

	if err := a.deps.Ledger.MarkComplete(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to record provisioning completion")
		if reportErr := a.deps.Reporter.ReportFailure(ctx, err, vmID); reportErr != nil {
			a.logger.Error().Err(reportErr).Msg("Failed to report provisioning failure")
		}
		a.finish(ctx, run, stores.RunStatusFailed, ResultFailure, start, err)
		span.SetAttributes(telemetry.AttrErrorKind.String(string(engine.KindOf(err))))
		telemetry.End(span, err)
		return err
	}

	var extra map[string]string
	if a.deps.Facts != nil {
		extra = a.deps.Facts.Collect().ReportFields()
	}
	reportErr := a.deps.Reporter.ReportReady(ctx, vmID, extra)
	a.finish(ctx, run, stores.RunStatusSucceeded, ResultSuccess, start, reportErr)
	telemetry.End(span, reportErr)
	if reportErr != nil {
		a.logger.Error().Err(reportErr).Msg("Provisioned, but failed to report ready")
		return reportErr
	}

	a.logger.Info().Str("vm_id", vmID).Dur("duration", time.Since(start)).Msg("Provisioning complete")
	return nil
}

func (a *Agent) provision(ctx context.Context, vmID string, run *stores.Run) error {
	err := a.phase(ctx, "goalstate", func(ctx context.Context) error {
		gs, err := a.deps.Wireserver.FetchGoalstate(ctx)
		if err != nil {
			return err
		}
		return a.deps.Wireserver.ReportHealth(ctx, gs)
	})
	if err != nil {
		return err
	}

	if err := a.deps.Reporter.ReportInProgress(ctx, vmID); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to report provisioning in progress")
	}

	var metadata *imds.InstanceMetadata
	err = a.phase(ctx, "imds", func(ctx context.Context) error {
		var err error
		metadata, err = a.deps.Metadata.Query(ctx)
		return err
	})
	if err != nil {
		return err
	}
	spec := metadata.Spec(a.opts.Groups)

	if a.deps.Policy != nil {
		if err := a.phase(ctx, "policy", func(ctx context.Context) error {
			return a.deps.Policy.Check(ctx, spec)
		}); err != nil {
			return err
		}
	}

	err = a.phase(ctx, "backends", func(ctx context.Context) error {
		return a.provisioner(ctx, run).Provision(ctx, spec)
	})
	if err != nil {
		return err
	}

	if a.deps.SSHD != nil {
		return a.phase(ctx, "sshd", func(context.Context) error {
			return a.deps.SSHD.SetPasswordAuthentication(metadata.PasswordAuthentication())
		})
	}
	return nil
}

// phase runs fn inside a child span.
func (a *Agent) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := a.deps.Tracer.Start(ctx, "provision."+name, trace.WithAttributes(telemetry.AttrPhase.String(name)))

	err := fn(ctx)
	if err != nil {
		span.SetAttributes(telemetry.AttrErrorKind.String(string(engine.KindOf(err))))
	}
	telemetry.End(span, err)
	return err
}

// spanObserver adds one event per backend attempt to the backends phase span.
type spanObserver struct {
	span trace.Span
}

func (o spanObserver) BackendAttempt(capability engine.Capability, backend string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		telemetry.AttrCapability.String(string(capability)),
		attribute.String("provision.backend", backend),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, telemetry.AttrErrorKind.String(string(engine.KindOf(err))))
	}
	o.span.AddEvent("backend.attempt", trace.WithAttributes(attrs...))
}

func (a *Agent) provisioner(ctx context.Context, run *stores.Run) *engine.Provisioner {
	observers := engine.Observers{spanObserver{span: trace.SpanFromContext(ctx)}}
	if a.deps.Metrics != nil {
		observers = append(observers, a.deps.Metrics)
	}
	if a.deps.Journal != nil && run != nil {
		observers = append(observers, a.deps.Journal.Observer(ctx, run.ID))
	}

	opts := []engine.ProvisionerOption{engine.WithObserver(observers)}
	if a.deps.UserLookup != nil {
		opts = append(opts, engine.WithUserLookup(a.deps.UserLookup))
	}
	return engine.NewProvisioner(a.deps.Backends, a.deps.KeyInstaller, a.logger, opts...)
}

// startRun opens a journal entry. Journal trouble is logged and never stops provisioning.
func (a *Agent) startRun(ctx context.Context, vmID string) *stores.Run {
	if a.deps.Journal == nil {
		return nil
	}
	run, err := a.deps.Journal.StartRun(ctx, vmID)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to journal run start")
		return nil
	}
	a.logger = a.logger.With().Str("run_id", run.ID).Logger()
	return run
}

func (a *Agent) finish(ctx context.Context, run *stores.Run, status stores.RunStatus, result string, start time.Time, runErr error) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordRun(result, time.Since(start))
	}
	if run == nil {
		return
	}
	if err := a.deps.Journal.FinishRun(ctx, run.ID, status, runErr); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to journal run outcome")
	}
}
