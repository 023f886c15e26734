// Package telemetry provides logging, metrics and tracing for the agent.
//
// The three pillars are built from one Config and owned by a Telemetry value:
//
//  1. Logger - a zerolog root logger; components get children via Component(name)
//  2. Metrics - Prometheus collectors in a private registry, flushed to a
//     node-exporter textfile at exit
//  3. Tracer - an OpenTelemetry tracer exporting to stdout or OTLP/gRPC, or a no-op
//
// Nothing here touches process-global state: no global logger, tracer provider or
// Prometheus registry is installed.
//
//	tel, err := telemetry.New(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := retryhttp.New("imds", tel.Logger.Zerolog(),
//	    retryhttp.WithObserver(tel.Metrics),
//	    retryhttp.WithTracer(tel.Tracer.Tracer()))
//
// Metrics implements both retryhttp.Observer and engine.Observer, so the same value
// counts HTTP attempts and backend attempts.
package telemetry
